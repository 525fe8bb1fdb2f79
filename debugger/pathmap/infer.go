package pathmap

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-delve/delve/service/api"
)

// versionSuffix module cache中路径携带的版本号，例如 toml@v0.3.1
var versionSuffix = regexp.MustCompile(`@v\d+\.\d+\.\d+[^/]*`)

// Env 路径推断依赖的本地环境，构造时传入，不在调用时读取环境变量
type Env struct {
	GOPATH          string
	GOROOT          string
	WorkspaceFolder string
}

// FileExists 默认的文件存在检查
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Resolver 本地路径与远程dlv路径之间的互相推断
type Resolver struct {
	index      *RemoteIndex
	env        Env
	fileExists func(string) bool
	separator  string
}

type Option func(r *Resolver)

// WithFileExists 替换文件存在检查
func WithFileExists(fn func(string) bool) Option {
	return func(r *Resolver) {
		r.fileExists = fn
	}
}

// WithSeparator 指定本地路径分隔符
func WithSeparator(sep string) Option {
	return func(r *Resolver) {
		r.separator = sep
	}
}

func NewResolver(index *RemoteIndex, env Env, opts ...Option) *Resolver {
	r := &Resolver{
		index:      index,
		env:        env,
		fileExists: FileExists,
		separator:  string(filepath.Separator),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InferRemotePathFromLocalPath 根据文件名在远程索引中找到对应的远程路径
// 候选路径有多个时，选择从尾部开始相同路径段最多的一个，相同时取第一个
func (r *Resolver) InferRemotePathFromLocalPath(localPath string) (string, bool) {
	localSegments := splitSegments(localPath)
	if len(localSegments) == 0 {
		return "", false
	}
	candidates := r.index.Candidates(localSegments[len(localSegments)-1])
	switch len(candidates) {
	case 0:
		return "", false
	case 1:
		return candidates[0], true
	}

	best, bestScore := candidates[0], -1
	for _, candidate := range candidates {
		score := commonSuffixSegments(localSegments, splitSegments(candidate))
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}
	return best, true
}

func commonSuffixSegments(a, b []string) int {
	n := 0
	for i, j := len(a)-1, len(b)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
		if a[i] != b[j] {
			break
		}
		n++
	}
	return n
}

// InferLocalPathFromRemoteGoPackage 根据远程路径所属的包推断本地路径
// 依次尝试 workspace、GOPATH/pkg/mod、GOPATH/src、GOROOT/src，返回第一个存在的路径
func (r *Resolver) InferLocalPathFromRemoteGoPackage(remotePath string) (string, bool) {
	pkg, full := r.findPackage(toSlash(remotePath))
	if pkg == nil {
		return "", false
	}

	// 查找import path时忽略版本号，截取时使用原路径，保留版本号
	stripped := versionSuffix.ReplaceAllString(full, "")
	idx := indexSegments(stripped, pkg.ImportPath)
	if idx < 0 {
		idx = indexSegments(stripped, EscapeGoModPath(pkg.ImportPath))
	}
	if idx < 0 {
		return "", false
	}
	relative := full[idx:]

	for _, candidate := range r.candidates(relative) {
		if r.fileExists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (r *Resolver) candidates(relative string) []string {
	var answer []string
	if r.env.WorkspaceFolder != "" {
		answer = append(answer, r.join(r.env.WorkspaceFolder, relative))
	}
	if gopath := firstGOPATH(r.env.GOPATH); gopath != "" {
		answer = append(answer,
			r.join(r.join(gopath, "pkg/mod"), EscapeGoModPath(relative)),
			r.join(r.join(gopath, "src"), relative))
	}
	if r.env.GOROOT != "" {
		answer = append(answer, r.join(r.env.GOROOT, "src", relative))
	}
	return answer
}

// findPackage 找到远程路径所属的包，返回包以及该文件的完整远程路径
// 优先精确匹配文件，其次匹配最长的目录前缀，最后将远程路径当作相对路径进行后缀匹配
func (r *Resolver) findPackage(remotePath string) (*api.PackageBuildInfo, string) {
	packages := r.index.Packages()
	for i := range packages {
		for _, file := range packages[i].Files {
			if toSlash(file) == remotePath {
				return &packages[i], remotePath
			}
		}
	}

	var matched *api.PackageBuildInfo
	for i := range packages {
		dir := strings.TrimSuffix(toSlash(packages[i].DirectoryPath), "/")
		if dir == "" || !strings.HasPrefix(remotePath, dir+"/") {
			continue
		}
		if matched == nil || len(dir) > len(toSlash(matched.DirectoryPath)) {
			matched = &packages[i]
		}
	}
	if matched != nil {
		return matched, remotePath
	}

	suffix := "/" + strings.TrimPrefix(remotePath, "./")
	for i := range packages {
		for _, file := range packages[i].Files {
			if strings.HasSuffix(toSlash(file), suffix) {
				return &packages[i], toSlash(file)
			}
		}
	}
	return nil, ""
}

// indexSegments 查找sub在p中的位置，sub必须从路径段的开头开始并以 '/' 结束
func indexSegments(p, sub string) int {
	for start := 0; start < len(p); {
		i := strings.Index(p[start:], sub+"/")
		if i < 0 {
			return -1
		}
		i += start
		if i == 0 || p[i-1] == '/' {
			return i
		}
		start = i + 1
	}
	return -1
}

// join 使用本地分隔符拼接路径
func (r *Resolver) join(root string, parts ...string) string {
	root = strings.TrimRight(root, "/\\")
	segments := []string{root}
	for _, part := range parts {
		segments = append(segments, splitSegments(part)...)
	}
	return strings.Join(segments, r.separator)
}

func firstGOPATH(gopath string) string {
	list := filepath.SplitList(gopath)
	if len(list) == 0 {
		return ""
	}
	return list[0]
}
