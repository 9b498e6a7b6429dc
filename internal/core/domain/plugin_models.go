// Package domain file: internal/core/domain/plugin_models.go
package domain

// PluginRecord 是单个插件在某个应用实例下的持久化元数据行。
// (name, app_name) 在存储层上保持唯一。
type PluginRecord struct {
	Name       string         `json:"name"`        // 插件的全局唯一名称, e.g., "workflow"
	AppName    string         `json:"app_name"`    // 所属应用实例名称
	Version    string         `json:"version"`     // 已安装版本号, e.g., "1.0.1"
	Registry   string         `json:"registry"`    // npm 来源时的 registry 地址
	ZipURL     string         `json:"zip_url"`     // zip 来源时的下载地址
	ClientURL  string         `json:"client_url"`  // 前端资源加载地址
	Enabled    bool           `json:"enabled"`     // 是否已启用
	Installed  bool           `json:"installed"`   // 包文件是否已落盘
	BuiltIn    bool           `json:"built_in"`    // 内置插件不可禁用/删除
	IsOfficial bool           `json:"is_official"` // 是否官方插件
	Options    map[string]any `json:"options"`     // 插件自定义配置
}

// RecordFilter 是记录存储的查询过滤条件。零值字段表示不参与过滤。
type RecordFilter struct {
	Name    string
	Enabled *bool
	BuiltIn *bool
}

// RecordValues 是记录存储 Update 操作的待更新字段集合。
// 仅非 nil 字段会被写入，避免覆盖未提及的列。
type RecordValues struct {
	Version   *string
	Registry  *string
	ZipURL    *string
	ClientURL *string
	Enabled   *bool
	Installed *bool
	Options   map[string]any
}

// ResolvedPackage 是包源解析器归一化后的结果：
// 无论来源是 npm、zip 还是本地路径，最终都表示为 名称+版本+落盘目录。
type ResolvedPackage struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	PackageDir string `json:"package_dir"`
}

// NpmSource 描述一次 npm 来源的解析请求
type NpmSource struct {
	Name     string // 包名，必填
	Registry string // registry 地址，空则使用解析器默认值
	Version  string // 固定版本，空则取 dist-tags.latest
}

// ZipSource 描述一次 zip 来源的解析请求
type ZipSource struct {
	ZipURL string // 下载地址 (http/https/file scheme)
	Name   string // 期望的包名，空则以包内 package.json 为准
}

// PackageManifest 对应插件包内 package.json 中本系统关心的字段
type PackageManifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
