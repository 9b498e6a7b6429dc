// Package resolver file: internal/resolver/downloader.go
package resolver

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// Downloader 是所有包来源下载器都必须实现的接口。
type Downloader interface {
	// SupportsScheme 支持的协议 (e.g., "http", "https", "file")
	SupportsScheme(scheme string) bool
	// Download 执行下载，返回一个可读取内容的对象
	Download(sourceURL *url.URL) (io.ReadCloser, error)
}

// HTTPDownloader 通过 HTTP/HTTPS 拉取包内容
type HTTPDownloader struct {
	Client *http.Client
}

func (d *HTTPDownloader) SupportsScheme(scheme string) bool {
	return scheme == "http" || scheme == "https"
}

func (d *HTTPDownloader) Download(sourceURL *url.URL) (io.ReadCloser, error) {
	resp, err := d.Client.Get(sourceURL.String())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() // 确保在出错时关闭body
		return nil, fmt.Errorf("HTTP请求失败, 状态码: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// FileDownloader 处理 file:// 协议，实际上是打开本地文件
type FileDownloader struct{}

func (d *FileDownloader) SupportsScheme(scheme string) bool {
	return scheme == "file"
}

func (d *FileDownloader) Download(sourceURL *url.URL) (io.ReadCloser, error) {
	path := filepath.FromSlash(sourceURL.Path)

	// Windows 下 file:///C:/... 解析出的 Path 带前导分隔符，需要剥掉
	if len(path) > 2 && path[0] == filepath.Separator && path[2] == ':' {
		path = path[1:]
	}

	return os.Open(path)
}
