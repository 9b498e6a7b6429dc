// Package resolver file: internal/resolver/archive.go
package resolver

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// unzip 解压 zip 文件到 dest，拒绝指向目录之外的条目
func unzip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("打开 zip 文件失败 (%s): %w", src, err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("创建解压目录失败 (%s): %w", dest, err)
	}

	for _, f := range r.File {
		fpath, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0755); err != nil {
				return fmt.Errorf("创建目录失败 (%s): %w", fpath, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), 0755); err != nil {
			return fmt.Errorf("创建文件父目录失败 (%s): %w", fpath, err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("打开 zip 内部文件失败 (%s): %w", f.Name, err)
		}
		err = writeFile(fpath, rc, fallbackMode(f.Mode()))
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// untgz 解压 npm 的 .tgz 包到 dest。
// npm 包的所有条目都在顶层 "package/" 目录下，这里会剥掉这一层。
func untgz(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("打开 tgz 文件失败 (%s): %w", src, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("读取 gzip 流失败 (%s): %w", src, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("创建解压目录失败 (%s): %w", dest, err)
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("读取 tar 条目失败 (%s): %w", src, err)
		}

		name := strings.TrimPrefix(filepath.ToSlash(hdr.Name), "package/")
		if name == "" || name == "package" {
			continue
		}
		fpath, err := safeJoin(dest, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(fpath, 0755); err != nil {
				return fmt.Errorf("创建目录失败 (%s): %w", fpath, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(fpath), 0755); err != nil {
				return fmt.Errorf("创建文件父目录失败 (%s): %w", fpath, err)
			}
			if err := writeFile(fpath, tr, fallbackMode(os.FileMode(hdr.Mode))); err != nil {
				return err
			}
		default:
			// 符号链接等特殊条目直接忽略，插件包内不应出现
		}
	}
}

// safeJoin 把条目名拼到 dest 下，检测潜在的路径穿越
func safeJoin(dest, name string) (string, error) {
	fpath := filepath.Join(dest, filepath.Clean(name))
	if relPath, err := filepath.Rel(dest, fpath); err != nil || strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("检测到潜在非法路径 (文件: %s)", name)
	}
	return fpath, nil
}

func writeFile(fpath string, r io.Reader, mode os.FileMode) error {
	outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("创建文件失败 (%s): %w", fpath, err)
	}
	_, err = io.Copy(outFile, r)
	outFile.Close()
	if err != nil {
		return fmt.Errorf("写入文件失败 (%s): %w", fpath, err)
	}
	return nil
}

// fallbackMode 用于处理归档中 mode 缺失的场景
func fallbackMode(m os.FileMode) os.FileMode {
	if m == 0 {
		return 0644
	}
	return m
}

// verifyShasum 校验文件的 SHA-1 摘要（npm dist.shasum 约定）
func verifyShasum(filePath, expected string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	hasher := sha1.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return err
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != expected {
		return fmt.Errorf("shasum 校验不匹配。期望: %s, 实际: %s", expected, actual)
	}
	return nil
}
