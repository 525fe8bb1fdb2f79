package pathmap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/sets"
	"github.com/fansqz/go-debug-adapter/debugger/delve"
	"github.com/fansqz/go-debug-adapter/utils"
	"github.com/go-delve/delve/service/api"
	"github.com/sirupsen/logrus"
)

// Backend 构建远程索引需要的dlv查询
type Backend interface {
	IsAPIV1() bool
	ListSources(ctx context.Context, filter string) (*delve.SourcesResult, error)
	ListPackagesBuildInfo(ctx context.Context, includeFiles bool) (*delve.PackagesBuildInfoResult, error)
}

// RemoteIndex 远程dlv上报的源文件以及包信息
// 每个会话最多构建一次，构建完成后只读
type RemoteIndex struct {
	once  sync.Once
	err   error
	ready atomic.Bool

	remoteSourceFiles       sets.Set
	remotePackagesBuildInfo []api.PackageBuildInfo
	// remoteSourceFilesNameGrouping 文件名 -> 远程完整路径，顺序与dlv返回的顺序一致
	remoteSourceFilesNameGrouping map[string][]string
}

func NewRemoteIndex() *RemoteIndex {
	return &RemoteIndex{}
}

// Initialize 查询dlv并构建索引，并发调用时只有一次真正执行，其余调用等待其完成
func (r *RemoteIndex) Initialize(ctx context.Context, backend Backend) error {
	r.once.Do(func() {
		r.err = r.build(ctx, backend)
	})
	return r.err
}

func (r *RemoteIndex) build(ctx context.Context, backend Backend) error {
	logrus.Infof("[RemoteIndex] build")
	sources, err := backend.ListSources(ctx, "")
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	files := sources.Sources()

	// v1没有ListPackagesBuildInfo，只能用源文件列表分组
	if backend.IsAPIV1() {
		r.remoteSourceFiles = utils.List2set(files)
		r.remoteSourceFilesNameGrouping = utils.GroupBy(files, baseName)
		r.ready.Store(true)
		return nil
	}

	packages, err := backend.ListPackagesBuildInfo(ctx, true)
	if err != nil {
		return fmt.Errorf("list packages build info: %w", err)
	}
	r.remotePackagesBuildInfo = packages.Packages()
	var packageFiles []string
	for _, pkg := range r.remotePackagesBuildInfo {
		packageFiles = append(packageFiles, pkg.Files...)
	}
	r.remoteSourceFiles = utils.List2set(files)
	r.remoteSourceFilesNameGrouping = utils.GroupBy(packageFiles, baseName)
	r.ready.Store(true)
	logrus.Infof("[RemoteIndex] %d sources, %d packages", len(files), len(r.remotePackagesBuildInfo))
	return nil
}

// Ready 索引是否已经构建成功
func (r *RemoteIndex) Ready() bool {
	return r.ready.Load()
}

// Candidates 与文件名相同的远程路径
func (r *RemoteIndex) Candidates(name string) []string {
	return r.remoteSourceFilesNameGrouping[name]
}

// Packages dlv上报的包信息
func (r *RemoteIndex) Packages() []api.PackageBuildInfo {
	return r.remotePackagesBuildInfo
}

// HasSource dlv是否上报过该源文件
func (r *RemoteIndex) HasSource(remotePath string) bool {
	if !r.ready.Load() {
		return false
	}
	return r.remoteSourceFiles.Contains(remotePath)
}
