package debugger

import (
	"context"
	"strings"

	"github.com/fansqz/go-debug-adapter/protocol"
	"github.com/sirupsen/logrus"
)

// ensureIndex 第一次需要远程路径时构建索引，之后直接返回
func (d *DebugSession) ensureIndex(ctx context.Context) error {
	return d.index.Initialize(ctx, d.client)
}

// toDebuggerPath 本地路径转为dlv中的路径
// 优先使用substitutePath，远程调试时根据远程索引推断，都失败时原样返回
func (d *DebugSession) toDebuggerPath(ctx context.Context, localPath string) string {
	if p, ok := substitute(localPath, d.substitutePath, false); ok {
		return p
	}
	if !d.isRemote {
		return localPath
	}
	if err := d.ensureIndex(ctx); err != nil {
		logrus.Warnf("[DebugSession] %s remote index unavailable, err = %v", d.id, err)
		return localPath
	}
	if d.index.HasSource(localPath) {
		// 本地与远程路径相同
		return localPath
	}
	if remote, ok := d.resolver.InferRemotePathFromLocalPath(localPath); ok {
		logrus.Debugf("[DebugSession] %s %s -> %s", d.id, localPath, remote)
		return remote
	}
	return localPath
}

// toLocalPath dlv中的路径转为本地路径，远程路径的推断结果会被缓存
func (d *DebugSession) toLocalPath(ctx context.Context, remotePath string) string {
	if remotePath == "" {
		return ""
	}
	if p, ok := substitute(remotePath, d.substitutePath, true); ok {
		return p
	}
	if !d.isRemote {
		return remotePath
	}
	if cached, ok := d.remotePathCache.Load(remotePath); ok {
		return cached.(string)
	}
	if err := d.ensureIndex(ctx); err != nil {
		logrus.Warnf("[DebugSession] %s remote index unavailable, err = %v", d.id, err)
		return remotePath
	}
	local, ok := d.resolver.InferLocalPathFromRemoteGoPackage(remotePath)
	if !ok {
		// 找不到时也缓存，避免重复查找
		local = remotePath
	}
	d.remotePathCache.Store(remotePath, local)
	return local
}

// substitute 按照顺序使用第一个匹配的规则替换前缀
// reverse为false时 From -> To，为true时 To -> From
func substitute(p string, rules []protocol.SubstitutePathRule, reverse bool) (string, bool) {
	for _, rule := range rules {
		from, to := rule.From, rule.To
		if reverse {
			from, to = to, from
		}
		if from == "" || !hasPathPrefix(p, from) {
			continue
		}
		rest := p[len(from):]
		// 分隔符跟随目标路径
		if strings.Contains(to, "\\") && !strings.Contains(to, "/") {
			rest = strings.ReplaceAll(rest, "/", "\\")
		} else {
			rest = strings.ReplaceAll(rest, "\\", "/")
		}
		return to + rest, true
	}
	return "", false
}

func hasPathPrefix(p, prefix string) bool {
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	if len(p) == len(prefix) || strings.HasSuffix(prefix, "/") || strings.HasSuffix(prefix, "\\") {
		return true
	}
	return p[len(prefix)] == '/' || p[len(prefix)] == '\\'
}

// toDelveLine dlv的行号从1开始
func (d *DebugSession) toDelveLine(line int) int {
	if d.linesStartAt1 {
		return line
	}
	return line + 1
}

func (d *DebugSession) toClientLine(line int) int {
	if d.linesStartAt1 {
		return line
	}
	return line - 1
}

func (d *DebugSession) toClientColumn(column int) int {
	if d.columnsStartAt1 {
		return column
	}
	return column - 1
}
