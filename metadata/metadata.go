package metadata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"howett.net/plist"

	"appsizer/logger"
)

// Info is the identifying metadata decoded from an application bundle
// descriptor.
type Info struct {
	Name     string
	BundleID string
	Version  string
}

var (
	// ErrTimeout reports that descriptor decoding exceeded its budget.
	ErrTimeout = errors.New("metadata: descriptor read timed out")
	// ErrDecode reports that no decoder could make sense of the descriptor.
	ErrDecode = errors.New("metadata: descriptor could not be decoded")
)

// Read decodes Contents/Info.plist for the bundle at bundlePath. The whole
// decode chain runs under the given wall-clock budget; a descriptor that
// hangs the reader does not hang the caller.
func Read(ctx context.Context, bundlePath string, timeout time.Duration) (Info, error) {
	type result struct {
		info Info
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		info, err := decodeDescriptor(filepath.Join(bundlePath, "Contents", "Info.plist"))
		resCh <- result{info: info, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resCh:
		return res.info, res.err
	case <-timer.C:
		return Info{}, fmt.Errorf("%w after %v: %s", ErrTimeout, timeout, bundlePath)
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

func decodeDescriptor(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("metadata: read descriptor: %w", err)
	}

	var dict map[string]interface{}
	if _, err := plist.Unmarshal(data, &dict); err == nil {
		return infoFromDict(dict), nil
	} else {
		logger.Debugf("strict descriptor decode failed for %s: %v", path, err)
	}

	// Malformed descriptors still frequently carry well-formed key/string
	// pairs. Scrape the ones we need instead of giving up.
	if info, ok := scrapeDescriptor(data); ok {
		return info, nil
	}
	return Info{}, fmt.Errorf("%w: %s", ErrDecode, path)
}

func infoFromDict(dict map[string]interface{}) Info {
	str := func(key string) string {
		if v, ok := dict[key].(string); ok {
			return strings.TrimSpace(v)
		}
		return ""
	}
	info := Info{
		Name:     str("CFBundleDisplayName"),
		BundleID: str("CFBundleIdentifier"),
		Version:  str("CFBundleShortVersionString"),
	}
	if info.Name == "" {
		info.Name = str("CFBundleName")
	}
	if info.Version == "" {
		info.Version = str("CFBundleVersion")
	}
	return info
}

var keyStringPattern = regexp.MustCompile(`<key>([^<]+)</key>\s*<string>([^<]*)</string>`)

func scrapeDescriptor(data []byte) (Info, bool) {
	if !bytes.Contains(data, []byte("<key>")) {
		return Info{}, false
	}
	dict := make(map[string]interface{})
	for _, m := range keyStringPattern.FindAllSubmatch(data, -1) {
		dict[string(m[1])] = string(m[2])
	}
	info := infoFromDict(dict)
	if info.BundleID == "" && info.Name == "" {
		return Info{}, false
	}
	return info, true
}
