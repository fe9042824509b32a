package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"meshforge/internal/api/auth"
	"meshforge/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// 单次转换消耗的额度。
const conversionCost = 1

// handleUpload 接收图片、调用转换服务并返回 3D 模型。
//
// POST /home/upload
//
// 额度采用「先预检、转换成功后条件扣减」：预检挡掉明显不足的请求，
// 真正的扣减由带余额条件的单条 UPDATE 保证不会扣成负数。
// 转换失败不扣额度。
func (s *Server) handleUpload(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Image upload failed."})
		return
	}

	userID := getUserID(c)

	available, err := s.credits.GetAvailableTokens(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found."})
			return
		}
		s.logger.Error("query tokens failed", slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update API tokens."})
		return
	}
	if available < conversionCost {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient tokens"})
		return
	}

	imagePath := filepath.Join(s.cfg.App.UploadDir, fmt.Sprintf("%d-%s", time.Now().UnixMilli(), filepath.Base(file.Filename)))
	if err := c.SaveUploadedFile(file, imagePath); err != nil {
		s.logger.Error("save upload failed", slog.String("path", imagePath), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Image upload failed."})
		return
	}
	defer os.Remove(imagePath)

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.Conversion.Timeout)
	defer cancel()

	start := time.Now()
	modelPath, err := s.converter.Convert(ctx, imagePath)
	metrics.ConversionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ConversionTotal.WithLabelValues("error").Inc()
		s.logger.Error("conversion failed",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("image", file.Filename),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process the image."})
		return
	}
	defer os.Remove(modelPath)

	if err := s.credits.Debit(c.Request.Context(), userID, conversionCost); err != nil {
		if errors.Is(err, ErrInsufficientTokens) {
			// 预检之后额度被并发耗尽
			metrics.ConversionTotal.WithLabelValues("rejected").Inc()
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient tokens"})
			return
		}
		s.logger.Error("debit tokens failed", slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update API tokens."})
		return
	}

	metrics.ConversionTotal.WithLabelValues("ok").Inc()
	s.logger.Info("conversion complete",
		slog.Uint64("user_id", uint64(userID)),
		slog.String("image", file.Filename),
		slog.Duration("elapsed", time.Since(start)))

	c.Header("Content-Type", "model/gltf-binary")
	c.Header("Content-Disposition", `attachment; filename="3Dmodel.glb"`)
	c.File(modelPath)
}
