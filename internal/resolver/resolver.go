// Package resolver file: internal/resolver/resolver.go
//
// 包源解析器：把 npm registry、zip 地址、本地路径三种插件来源
// 归一化为 "名称 + 版本 + 落盘目录"。所有解析失败都以
// port.ErrPackageResolution 为根错误向上传播。
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"LoomBase/internal/core/domain"
	"LoomBase/internal/core/port"
)

const (
	packumentCacheTTL = 5 * time.Minute
	maxMetadataSize   = 10 << 20 // 10MB
)

// Service 是 port.PackageResolver 的标准实现
type Service struct {
	installDir      string
	defaultRegistry string
	downloaders     []Downloader

	packuments *gocache.Cache           // registry 元数据的 TTL 缓存
	latest     *lru.LRU[string, string] // name@registry -> 最新版本号
	group      singleflight.Group       // 并发下载去重
}

// New 创建一个包源解析器
func New(installDir, defaultRegistry string) (*Service, error) {
	if installDir == "" {
		return nil, errors.New("插件安装目录(installDir)不能为空")
	}
	if err := os.MkdirAll(installDir, 0755); err != nil {
		return nil, fmt.Errorf("创建插件安装目录 '%s' 失败: %w", installDir, err)
	}

	return &Service{
		installDir:      installDir,
		defaultRegistry: defaultRegistry,
		downloaders: []Downloader{
			&HTTPDownloader{Client: &http.Client{Timeout: 60 * time.Second}},
			&FileDownloader{},
		},
		packuments: gocache.New(packumentCacheTTL, 10*time.Minute),
		latest:     lru.NewLRU[string, string](256, nil, packumentCacheTTL),
	}, nil
}

// npmPackument 是 registry 返回的包元数据中本系统关心的部分
type npmPackument struct {
	DistTags map[string]string             `json:"dist-tags"`
	Versions map[string]npmVersionMetadata `json:"versions"`
}

type npmVersionMetadata struct {
	Version string  `json:"version"`
	Dist    npmDist `json:"dist"`
}

type npmDist struct {
	Tarball string `json:"tarball"`
	Shasum  string `json:"shasum"`
}

// ResolveFromNpm 从 npm registry 下载并落盘一个插件包
func (s *Service) ResolveFromNpm(ctx context.Context, src domain.NpmSource) (*domain.ResolvedPackage, error) {
	if src.Name == "" {
		return nil, fmt.Errorf("npm 来源需要非空的包名: %w", port.ErrPackageResolution)
	}
	registry := s.registryOrDefault(src.Registry)

	pack, err := s.fetchPackument(ctx, registry, src.Name)
	if err != nil {
		return nil, err
	}

	version := src.Version
	if version == "" {
		version = pack.DistTags["latest"]
	}
	meta, ok := pack.Versions[version]
	if !ok {
		return nil, fmt.Errorf("包 '%s' 的版本 '%s' 在 registry 上不存在: %w", src.Name, version, port.ErrPackageResolution)
	}

	packageDir := filepath.Join(s.installDir, src.Name, version)

	// 同一 name@version 的并发下载合并为一次
	_, err, _ = s.group.Do(src.Name+"@"+version, func() (any, error) {
		if _, errStat := os.Stat(filepath.Join(packageDir, "package.json")); errStat == nil {
			return nil, nil // 该版本已落盘
		}
		return nil, s.downloadTarball(ctx, src.Name, version, meta, packageDir)
	})
	if err != nil {
		return nil, err
	}

	return &domain.ResolvedPackage{Name: src.Name, Version: version, PackageDir: packageDir}, nil
}

// downloadTarball 下载、校验并解包一个 npm tarball
func (s *Service) downloadTarball(ctx context.Context, name, version string, meta npmVersionMetadata, packageDir string) error {
	if meta.Dist.Tarball == "" {
		return fmt.Errorf("包 '%s' v%s 没有 tarball 地址: %w", name, version, port.ErrPackageResolution)
	}

	tempPath := filepath.Join(s.installDir, fmt.Sprintf("%s-%s.tmp.tgz", sanitizeName(name), version))
	defer func() {
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			log.Printf("警告: 删除临时文件失败 (%s): %v", tempPath, err)
		}
	}()

	if err := s.fetchToFile(ctx, meta.Dist.Tarball, tempPath); err != nil {
		return fmt.Errorf("下载包 '%s' v%s 失败: %w (%v)", name, version, port.ErrPackageResolution, err)
	}
	if meta.Dist.Shasum != "" {
		if err := verifyShasum(tempPath, meta.Dist.Shasum); err != nil {
			return fmt.Errorf("包 '%s' v%s 校验失败: %w (%v)", name, version, port.ErrPackageResolution, err)
		}
	}

	if err := os.RemoveAll(packageDir); err != nil {
		return fmt.Errorf("清理旧安装目录失败 (%s): %w", packageDir, err)
	}
	if err := untgz(tempPath, packageDir); err != nil {
		return fmt.Errorf("解包 '%s' v%s 失败: %w (%v)", name, version, port.ErrPackageResolution, err)
	}

	log.Printf("🎉 [Resolver] 包 '%s' v%s 已落盘: %s", name, version, packageDir)
	return nil
}

// ResolveFromZip 下载 zip 包并以包内 package.json 确定名称与版本
func (s *Service) ResolveFromZip(ctx context.Context, src domain.ZipSource) (*domain.ResolvedPackage, error) {
	if src.ZipURL == "" {
		return nil, fmt.Errorf("zip 来源需要非空的下载地址: %w", port.ErrPackageResolution)
	}

	tempZip := filepath.Join(s.installDir, fmt.Sprintf("download-%d.tmp.zip", time.Now().UnixNano()))
	defer func() {
		if err := os.Remove(tempZip); err != nil && !os.IsNotExist(err) {
			log.Printf("警告: 删除临时文件失败 (%s): %v", tempZip, err)
		}
	}()
	if err := s.fetchToFile(ctx, src.ZipURL, tempZip); err != nil {
		return nil, fmt.Errorf("下载 zip 包失败 (URL: %s): %w (%v)", src.ZipURL, port.ErrPackageResolution, err)
	}

	tempDir, err := os.MkdirTemp(s.installDir, "unzip-")
	if err != nil {
		return nil, fmt.Errorf("创建临时解压目录失败: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			log.Printf("警告: 清理临时解压目录失败 (%s): %v", tempDir, err)
		}
	}()
	if err := unzip(tempZip, tempDir); err != nil {
		return nil, fmt.Errorf("解压 zip 包失败 (URL: %s): %w (%v)", src.ZipURL, port.ErrPackageResolution, err)
	}

	pkgRoot, manifest, err := locateManifest(tempDir)
	if err != nil {
		return nil, fmt.Errorf("zip 包内未找到有效的 package.json (URL: %s): %w (%v)", src.ZipURL, port.ErrPackageResolution, err)
	}
	if src.Name != "" && src.Name != manifest.Name {
		return nil, fmt.Errorf("zip 包内的名称 '%s' 与期望的 '%s' 不一致: %w", manifest.Name, src.Name, port.ErrPackageResolution)
	}

	packageDir := filepath.Join(s.installDir, manifest.Name, manifest.Version)
	if err := os.RemoveAll(packageDir); err != nil {
		return nil, fmt.Errorf("清理旧安装目录失败 (%s): %w", packageDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(packageDir), 0755); err != nil {
		return nil, fmt.Errorf("创建安装目录失败 (%s): %w", filepath.Dir(packageDir), err)
	}
	if err := os.Rename(pkgRoot, packageDir); err != nil {
		return nil, fmt.Errorf("移动包目录失败 (%s -> %s): %w", pkgRoot, packageDir, err)
	}

	log.Printf("🎉 [Resolver] zip 包 '%s' v%s 已落盘: %s", manifest.Name, manifest.Version, packageDir)
	return &domain.ResolvedPackage{Name: manifest.Name, Version: manifest.Version, PackageDir: packageDir}, nil
}

// ResolveFromLocal 解析本地目录下的 package.json
func (s *Service) ResolveFromLocal(path string) (*domain.ResolvedPackage, error) {
	manifest, err := readManifest(filepath.Join(path, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("读取本地插件 '%s' 失败: %w (%v)", path, port.ErrPackageResolution, err)
	}
	return &domain.ResolvedPackage{Name: manifest.Name, Version: manifest.Version, PackageDir: path}, nil
}

// HasNewerVersion 检查 registry 上是否存在比 current 更新的版本
func (s *Service) HasNewerVersion(ctx context.Context, name, registry, current string) (bool, string, error) {
	registry = s.registryOrDefault(registry)
	cacheKey := name + "@" + registry

	latest, ok := s.latest.Get(cacheKey)
	if !ok {
		pack, err := s.fetchPackument(ctx, registry, name)
		if err != nil {
			return false, "", err
		}
		latest = pack.DistTags["latest"]
		if latest == "" {
			return false, "", fmt.Errorf("包 '%s' 没有 latest 标签: %w", name, port.ErrPackageResolution)
		}
		s.latest.Add(cacheKey, latest)
	}

	return compareVersions(latest, current) > 0, latest, nil
}

// RemovePackage 删除某插件已落盘的全部版本
func (s *Service) RemovePackage(name string) error {
	dir := filepath.Join(s.installDir, name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("删除插件包目录 '%s' 失败: %w", dir, err)
	}
	return nil
}

// fetchPackument 获取并缓存 registry 的包元数据
func (s *Service) fetchPackument(ctx context.Context, registry, name string) (*npmPackument, error) {
	metaURL := strings.TrimSuffix(registry, "/") + "/" + name
	if cached, ok := s.packuments.Get(metaURL); ok {
		return cached.(*npmPackument), nil
	}

	reader, err := s.sourceReader(metaURL)
	if err != nil {
		return nil, fmt.Errorf("获取包 '%s' 的元数据失败 (registry: %s): %w (%v)", name, registry, port.ErrPackageResolution, err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			log.Printf("警告: 关闭元数据读取流失败 (URL: %s): %v", metaURL, err)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(reader, maxMetadataSize))
	if err != nil {
		return nil, fmt.Errorf("读取包 '%s' 的元数据失败: %w (%v)", name, port.ErrPackageResolution, err)
	}

	var pack npmPackument
	if err := json.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("解析包 '%s' 的元数据失败: %w (%v)", name, port.ErrPackageResolution, err)
	}

	s.packuments.Set(metaURL, &pack, gocache.DefaultExpiration)
	return &pack, nil
}

// fetchToFile 把一个来源地址的内容写到本地文件
func (s *Service) fetchToFile(ctx context.Context, sourceURL, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reader, err := s.sourceReader(sourceURL)
	if err != nil {
		return fmt.Errorf("获取源读取器失败 (URL: %s): %w", sourceURL, err)
	}
	defer reader.Close()

	outFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("创建目标文件失败 (路径: %s): %w", destPath, err)
	}
	defer outFile.Close()

	written, err := io.Copy(outFile, reader)
	if err != nil {
		return fmt.Errorf("下载写入失败 (源: %s, 目标: %s): %w", sourceURL, destPath, err)
	}

	log.Printf("信息: 下载完成，源: %s，目标: %s，共写入 %d 字节", sourceURL, destPath, written)
	return nil
}

// sourceReader 根据 URL scheme 选择合适的下载器
func (s *Service) sourceReader(rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return os.Open(rawURL)
	}

	for _, d := range s.downloaders {
		if d.SupportsScheme(u.Scheme) {
			return d.Download(u)
		}
	}

	return nil, fmt.Errorf("没有找到支持协议 '%s' 的下载器", u.Scheme)
}

func (s *Service) registryOrDefault(registry string) string {
	if registry != "" {
		return registry
	}
	return s.defaultRegistry
}

// locateManifest 在解压目录的根或唯一子目录中定位 package.json
func locateManifest(dir string) (string, *domain.PackageManifest, error) {
	if manifest, err := readManifest(filepath.Join(dir, "package.json")); err == nil {
		return dir, manifest, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		if manifest, err := readManifest(filepath.Join(sub, "package.json")); err == nil {
			return sub, manifest, nil
		}
	}
	return "", nil, errors.New("package.json 不存在")
}

func readManifest(path string) (*domain.PackageManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest domain.PackageManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("解析 package.json 失败 (%s): %w", path, err)
	}
	if manifest.Name == "" || manifest.Version == "" {
		return nil, fmt.Errorf("package.json 缺少 name 或 version 字段 (%s)", path)
	}
	return &manifest, nil
}

// compareVersions 对两个点分版本号做数值比较，返回 -1/0/1。
// 缺失的段按 0 处理 ("1.0" 等于 "1.0.0")，
// 预发布后缀 (如 "-beta.1") 在比较时被忽略。
func compareVersions(a, b string) int {
	trim := func(v string) string {
		if i := strings.IndexByte(v, '-'); i >= 0 {
			return v[:i]
		}
		return v
	}
	pa := strings.Split(trim(a), ".")
	pb := strings.Split(trim(b), ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var na, nb int
		if i < len(pa) {
			na, _ = strconv.Atoi(pa[i])
		}
		if i < len(pb) {
			nb, _ = strconv.Atoi(pb[i])
		}
		if na != nb {
			if na > nb {
				return 1
			}
			return -1
		}
	}
	return 0
}

// sanitizeName 把 scoped 包名里的路径分隔符替换掉，用于临时文件名
func sanitizeName(name string) string {
	return strings.NewReplacer("/", "_", "@", "").Replace(name)
}
