package pathmap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fansqz/go-debug-adapter/debugger/delve"
	e "github.com/fansqz/go-debug-adapter/error"
	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	apiV1        bool
	sources      []string
	packages     []api.PackageBuildInfo
	err          error
	sourceCalls  atomic.Int32
	packageCalls atomic.Int32
}

func (f *fakeBackend) IsAPIV1() bool {
	return f.apiV1
}

func (f *fakeBackend) ListSources(ctx context.Context, filter string) (*delve.SourcesResult, error) {
	f.sourceCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.apiV1 {
		return &delve.SourcesResult{V1: f.sources}, nil
	}
	return &delve.SourcesResult{V2: &rpc2.ListSourcesOut{Sources: f.sources}}, nil
}

func (f *fakeBackend) ListPackagesBuildInfo(ctx context.Context, includeFiles bool) (*delve.PackagesBuildInfoResult, error) {
	f.packageCalls.Add(1)
	if f.apiV1 {
		return nil, e.ErrUnsupportedByAPIV1
	}
	return &delve.PackagesBuildInfoResult{V2: &rpc2.ListPackagesBuildInfoOut{List: f.packages}}, nil
}

func newBackend(packages ...api.PackageBuildInfo) *fakeBackend {
	b := &fakeBackend{packages: packages}
	for _, pkg := range packages {
		b.sources = append(b.sources, pkg.Files...)
	}
	return b
}

func existsIn(files ...string) func(string) bool {
	set := make(map[string]bool)
	for _, f := range files {
		set[f] = true
	}
	return func(p string) bool { return set[p] }
}

func TestEscapeGoModPath(t *testing.T) {
	assert.Equal(t, "github.com/!burn!sushi/toml", EscapeGoModPath("github.com/BurnSushi/toml"))
	assert.Equal(t, "github.com/!azure/azure-sdk-for-go", EscapeGoModPath("github.com/Azure/azure-sdk-for-go"))
	assert.Equal(t, "golang.org/x/sys", EscapeGoModPath("golang.org/x/sys"))
	assert.Equal(t, "", EscapeGoModPath(""))
}

func TestRemoteIndex_InitializeOnce(t *testing.T) {
	backend := newBackend(api.PackageBuildInfo{
		ImportPath:    "example.com/app",
		DirectoryPath: "/src/app",
		Files:         []string{"/src/app/main.go", "/src/app/util.go"},
	})
	index := NewRemoteIndex()
	assert.False(t, index.Ready())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Nil(t, index.Initialize(context.Background(), backend))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), backend.sourceCalls.Load())
	assert.Equal(t, int32(1), backend.packageCalls.Load())
	assert.True(t, index.Ready())
	assert.Equal(t, []string{"/src/app/main.go"}, index.Candidates("main.go"))
	assert.True(t, index.HasSource("/src/app/util.go"))
	assert.False(t, index.HasSource("/src/app/other.go"))
	assert.Len(t, index.Packages(), 1)
}

func TestRemoteIndex_APIV1(t *testing.T) {
	backend := &fakeBackend{apiV1: true, sources: []string{"/a/main.go", "/b/main.go", "/b/util.go"}}
	index := NewRemoteIndex()
	require.Nil(t, index.Initialize(context.Background(), backend))

	// v1只使用源文件列表
	assert.Equal(t, int32(0), backend.packageCalls.Load())
	assert.Equal(t, []string{"/a/main.go", "/b/main.go"}, index.Candidates("main.go"))
	assert.Empty(t, index.Packages())
}

func TestRemoteIndex_Error(t *testing.T) {
	backend := &fakeBackend{err: errors.New("connection reset")}
	index := NewRemoteIndex()
	err := index.Initialize(context.Background(), backend)
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	// 失败也只查询一次
	assert.Equal(t, err, index.Initialize(context.Background(), backend))
	assert.Equal(t, int32(1), backend.sourceCalls.Load())
	assert.False(t, index.Ready())
	assert.False(t, index.HasSource("/a/main.go"))
}

func TestInferRemotePathFromLocalPath(t *testing.T) {
	backend := newBackend(
		api.PackageBuildInfo{ImportPath: "example.com/a/util", DirectoryPath: "/build/a/util", Files: []string{"/build/a/util/main.go"}},
		api.PackageBuildInfo{ImportPath: "example.com/b/cmd", DirectoryPath: "/build/b/cmd", Files: []string{"/build/b/cmd/main.go", "/build/b/cmd/flags.go"}},
	)
	index := NewRemoteIndex()
	require.Nil(t, index.Initialize(context.Background(), backend))
	resolver := NewResolver(index, Env{}, WithFileExists(existsIn()))

	// 只有一个候选
	remote, ok := resolver.InferRemotePathFromLocalPath("/home/dev/proj/cmd/flags.go")
	assert.True(t, ok)
	assert.Equal(t, "/build/b/cmd/flags.go", remote)

	// 多个候选时选择尾部相同路径段最多的
	remote, ok = resolver.InferRemotePathFromLocalPath("/home/dev/proj/b/cmd/main.go")
	assert.True(t, ok)
	assert.Equal(t, "/build/b/cmd/main.go", remote)

	remote, ok = resolver.InferRemotePathFromLocalPath(`C:\proj\a\util\main.go`)
	assert.True(t, ok)
	assert.Equal(t, "/build/a/util/main.go", remote)

	// 相同时取dlv返回顺序中的第一个
	remote, ok = resolver.InferRemotePathFromLocalPath("/elsewhere/main.go")
	assert.True(t, ok)
	assert.Equal(t, "/build/a/util/main.go", remote)

	_, ok = resolver.InferRemotePathFromLocalPath("/home/dev/proj/missing.go")
	assert.False(t, ok)
}

func TestInferLocalPathFromRemoteGoPackage(t *testing.T) {
	backend := newBackend(
		api.PackageBuildInfo{
			ImportPath:    "example.com/app/pkg",
			DirectoryPath: "/src/example.com/app/pkg",
			Files:         []string{"/src/example.com/app/pkg/a.go"},
		},
		api.PackageBuildInfo{
			ImportPath:    "github.com/BurnSushi/toml",
			DirectoryPath: "/root/go/pkg/mod/github.com/!burn!sushi/toml@v1.3.2",
			Files:         []string{"/root/go/pkg/mod/github.com/!burn!sushi/toml@v1.3.2/decode.go"},
		},
		api.PackageBuildInfo{
			ImportPath:    "example.com/legacy",
			DirectoryPath: "/go/src/example.com/legacy",
			Files:         []string{"/go/src/example.com/legacy/main.go"},
		},
		api.PackageBuildInfo{
			ImportPath:    "runtime",
			DirectoryPath: "/usr/local/go/src/runtime",
			Files:         []string{"/usr/local/go/src/runtime/proc.go"},
		},
	)
	index := NewRemoteIndex()
	require.Nil(t, index.Initialize(context.Background(), backend))
	env := Env{GOPATH: "/home/dev/go:/opt/other", GOROOT: "/opt/go", WorkspaceFolder: "/ws"}
	exists := existsIn(
		"/ws/example.com/app/pkg/a.go",
		"/ws/example.com/app/pkg/internal/gen.go",
		"/home/dev/go/pkg/mod/github.com/!burn!sushi/toml@v1.3.2/decode.go",
		"/home/dev/go/src/example.com/legacy/main.go",
		"/opt/go/src/runtime/proc.go",
	)
	resolver := NewResolver(index, env, WithFileExists(exists), WithSeparator("/"))

	tests := []struct {
		name   string
		remote string
		local  string
		ok     bool
	}{
		{"workspace", "/src/example.com/app/pkg/a.go", "/ws/example.com/app/pkg/a.go", true},
		{"module cache", "/root/go/pkg/mod/github.com/!burn!sushi/toml@v1.3.2/decode.go", "/home/dev/go/pkg/mod/github.com/!burn!sushi/toml@v1.3.2/decode.go", true},
		{"gopath src", "/go/src/example.com/legacy/main.go", "/home/dev/go/src/example.com/legacy/main.go", true},
		{"goroot", "/usr/local/go/src/runtime/proc.go", "/opt/go/src/runtime/proc.go", true},
		{"relative to package directory", "/src/example.com/app/pkg/internal/gen.go", "/ws/example.com/app/pkg/internal/gen.go", true},
		{"non absolute remote path", "legacy/main.go", "/home/dev/go/src/example.com/legacy/main.go", true},
		{"unknown package", "/nowhere/z.go", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, ok := resolver.InferLocalPathFromRemoteGoPackage(tt.remote)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.local, local)
		})
	}
}

func TestInferLocalPathFromRemoteGoPackage_Miss(t *testing.T) {
	backend := newBackend(api.PackageBuildInfo{
		ImportPath:    "example.com/app",
		DirectoryPath: "/src/example.com/app",
		Files:         []string{"/src/example.com/app/main.go"},
	})
	index := NewRemoteIndex()
	require.Nil(t, index.Initialize(context.Background(), backend))
	resolver := NewResolver(index, Env{GOPATH: "/home/dev/go", WorkspaceFolder: "/ws"}, WithFileExists(existsIn()))

	// 包存在但本地没有对应的文件
	local, ok := resolver.InferLocalPathFromRemoteGoPackage("/src/example.com/app/main.go")
	assert.False(t, ok)
	assert.Equal(t, "", local)
}

func TestInferLocalPathFromRemoteGoPackage_WindowsSeparator(t *testing.T) {
	backend := newBackend(api.PackageBuildInfo{
		ImportPath:    "example.com/app",
		DirectoryPath: "/src/example.com/app",
		Files:         []string{"/src/example.com/app/main.go"},
	})
	index := NewRemoteIndex()
	require.Nil(t, index.Initialize(context.Background(), backend))
	resolver := NewResolver(index, Env{WorkspaceFolder: `C:\ws\`},
		WithFileExists(existsIn(`C:\ws\example.com\app\main.go`)),
		WithSeparator(`\`))

	local, ok := resolver.InferLocalPathFromRemoteGoPackage("/src/example.com/app/main.go")
	assert.True(t, ok)
	assert.Equal(t, `C:\ws\example.com\app\main.go`, local)
}
