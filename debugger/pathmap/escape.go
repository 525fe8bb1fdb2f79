package pathmap

import "strings"

// EscapeGoModPath 按照module cache的规则转义路径
// 大写字母转为 '!' + 小写字母，例如 BurnSushi -> !burn!sushi
func EscapeGoModPath(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if 'A' <= c && c <= 'Z' {
			b.WriteByte('!')
			b.WriteByte(c + ('a' - 'A'))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// toSlash 统一使用 '/' 作为分隔符，远程路径可能来自windows
func toSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// splitSegments 按 '/' 和 '\' 切分路径，忽略空段
func splitSegments(p string) []string {
	parts := strings.Split(toSlash(p), "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// baseName 路径的最后一段
func baseName(p string) string {
	p = toSlash(p)
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
