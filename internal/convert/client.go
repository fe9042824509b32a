package convert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"meshforge/internal/config"
)

// Converter 定义图片转 3D 模型的接口。
type Converter interface {
	// Convert 将 imagePath 指向的图片转换为 3D 模型文件。
	//
	// 返回生成的 .glb 文件路径，调用方负责在发送后删除。
	Convert(ctx context.Context, imagePath string) (string, error)
}

// Client 调用外部转换服务的 HTTP 客户端。
//
// 请求为 multipart 上传（字段名 "file"），Basic Auth 认证，
// 响应体为 glb 二进制流，写入 outDir 下的临时文件。
type Client struct {
	cfg        *config.ConversionConfig
	httpClient *http.Client
	outDir     string
	logger     *slog.Logger
}

// NewClient 创建转换服务客户端。
//
// 超时依赖调用方的 context，HTTP 客户端本身不设超时，
// 避免大文件流式响应被提前掐断。
func NewClient(cfg *config.ConversionConfig, outDir string, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		outDir:     outDir,
		logger:     logger,
	}
}

// Convert 上传图片并把转换结果落盘。
func (c *Client) Convert(ctx context.Context, imagePath string) (string, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	// 通过管道流式构造 multipart 请求体，整张图片不进内存
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(imagePath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, pr)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call conversion service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("conversion service returned status %d: %s", resp.StatusCode, string(body))
	}

	outputPath := filepath.Join(c.outDir, fmt.Sprintf("output_%d.glb", time.Now().UnixMilli()))
	out, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("create output file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(outputPath)
		return "", fmt.Errorf("write output file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("close output file: %w", err)
	}

	c.logger.Info("conversion complete",
		slog.String("output", outputPath),
		slog.String("latency", time.Since(start).String()),
	)
	return outputPath, nil
}
