package constraint

import (
	"cmp"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// versionPattern matches PEP 440 versions, including the lenient spellings
// pip accepts (`1.0-rc1`, `1.0_post2`, leading `v`).
const versionPattern = `v?(?:(\d+)!)?(\d+(?:\.\d+)*)` +
	`(?:[-_.]?(a|b|c|rc|alpha|beta|pre|preview)[-_.]?(\d*))?` +
	`(?:-(\d+)|[-_.]?(post|rev|r)[-_.]?(\d*))?` +
	`(?:[-_.]?(dev)[-_.]?(\d*))?` +
	`(?:\+([a-z0-9]+(?:[-_.][a-z0-9]+)*))?`

var versionRE = regexp.MustCompile(`^` + versionPattern + `$`)

// Version is a parsed PEP 440 version.
type Version struct {
	Text    string
	Epoch   int
	Release []int
	Pre     string // "a", "b" or "rc"
	PreNum  int
	Post    int // -1 when absent
	Dev     int // -1 when absent
	Local   string
}

// ParseVersion parses a PEP 440 version string.
func ParseVersion(text string) (Version, error) {
	in := strings.ToLower(strings.TrimSpace(text))
	m := versionRE.FindStringSubmatch(in)
	if m == nil {
		return Version{}, fmt.Errorf("CST_VERSION: invalid version %q", text)
	}
	v := Version{Text: strings.TrimSpace(text), Post: -1, Dev: -1, Local: m[10]}
	if m[1] != "" {
		v.Epoch = atoi(m[1])
	}
	for _, part := range strings.Split(m[2], ".") {
		v.Release = append(v.Release, atoi(part))
	}
	if m[3] != "" {
		v.Pre = normalizePre(m[3])
		v.PreNum = atoi(m[4])
	}
	switch {
	case m[5] != "":
		v.Post = atoi(m[5])
	case m[6] != "":
		v.Post = atoi(m[7])
	}
	if m[8] != "" {
		v.Dev = atoi(m[9])
	}
	return v, nil
}

func normalizePre(label string) string {
	switch label {
	case "alpha":
		return "a"
	case "beta":
		return "b"
	case "c", "pre", "preview":
		return "rc"
	}
	return label
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// IsPrerelease reports whether v is a pre-release or development release.
func (v Version) IsPrerelease() bool {
	return v.Pre != "" || v.Dev >= 0
}

// String returns the version as it was written.
func (v Version) String() string { return v.Text }

// semver maps the release and pre-release segments onto a semver string.
// Development releases map to a numeric pre-release identifier so they
// sort below alpha, beta and rc releases of the same version.
func (v Version) semver() string {
	core := [3]int{}
	for i := 0; i < len(v.Release) && i < 3; i++ {
		core[i] = v.Release[i]
	}
	s := fmt.Sprintf("v%d.%d.%d", core[0], core[1], core[2])
	switch {
	case v.Pre != "":
		s += fmt.Sprintf("-%s.%d", v.Pre, v.PreNum)
	case v.Dev >= 0:
		s += fmt.Sprintf("-0.%d", v.Dev)
	}
	return s
}

// Compare orders two versions following PEP 440 precedence.
func Compare(a, b Version) int {
	if c := cmp.Compare(a.Epoch, b.Epoch); c != 0 {
		return c
	}
	if c := compareRelease(a.Release, b.Release); c != 0 {
		return c
	}
	if c := semver.Compare(a.semver(), b.semver()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Post, b.Post); c != 0 {
		return c
	}
	return cmp.Compare(devRank(a), devRank(b))
}

func devRank(v Version) int {
	if v.Dev < 0 {
		return int(^uint(0) >> 1)
	}
	return v.Dev
}

func compareRelease(a, b []int) int {
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if c := cmp.Compare(x, y); c != 0 {
			return c
		}
	}
	return 0
}
