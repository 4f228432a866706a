// fingerprint.go derives stable hashes for grouping repeated error records in
// the developer log.

package pulse

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Fingerprint hashes the parts of a record that stay the same each time one
// failure recurs: module, the message with its variable values masked, and
// the first three stack frames by function name. URL, metadata and data are
// ignored.
func Fingerprint(record ErrorRecord) string {
	parts := []string{record.Module, normalizeMessage(record.Message)}
	parts = append(parts, normalizeStack(record.Stack)...)

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:8])
}

var (
	quotedPattern  = regexp.MustCompile(`'[^']*'|"[^"]*"`)
	memAddrPattern = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	numberPattern  = regexp.MustCompile(`\d+`)

	// Go frames: "main.doSomething(0x1234)", "pkg/sub.(*T).Method(...)", or
	// the bare names github.com/pkg/errors prints.
	goFramePattern = regexp.MustCompile(`^([a-zA-Z0-9_./*()-]+\.[a-zA-Z0-9_]+)(?:\(|$)`)
	// Script frames: "at render (https://site/app.js:10:5)" or "render@https://...".
	scriptFramePattern = regexp.MustCompile(`^(?:at\s+)?([\w$.<>]+)\s*(?:\(|@)`)
)

func normalizeMessage(msg string) string {
	msg = quotedPattern.ReplaceAllString(msg, "?")
	msg = memAddrPattern.ReplaceAllString(msg, "addr")
	return numberPattern.ReplaceAllString(msg, "#")
}

// normalizeStack returns up to three function names from a Go or script
// stack, skipping headers, file lines and runtime frames.
func normalizeStack(stack string) []string {
	var frames []string
	for _, line := range strings.Split(stack, "\n") {
		if strings.HasPrefix(line, "\t") {
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "goroutine ") || strings.HasPrefix(line, "/") {
			continue
		}

		name := submatchOrEmpty(goFramePattern, line)
		if name == "" {
			name = submatchOrEmpty(scriptFramePattern, line)
		}
		if name == "" || isRuntimeFrame(name) {
			continue
		}
		frames = append(frames, name)
		if len(frames) >= 3 {
			break
		}
	}
	return frames
}

func submatchOrEmpty(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func isRuntimeFrame(name string) bool {
	return strings.HasPrefix(name, "runtime.") ||
		strings.HasPrefix(name, "runtime/debug.") ||
		strings.HasPrefix(name, "panic")
}
