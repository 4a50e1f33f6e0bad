package adb

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type uiNode struct {
	Class      string   `xml:"class,attr"`
	ResourceID string   `xml:"resource-id,attr"`
	Package    string   `xml:"package,attr"`
	Text       string   `xml:"text,attr"`
	Clickable  string   `xml:"clickable,attr"`
	Bounds     string   `xml:"bounds,attr"`
	Children   []uiNode `xml:"node"`
}

type uiHierarchy struct {
	XMLName xml.Name `xml:"hierarchy"`
	Nodes   []uiNode `xml:"node"`
}

var boundsPattern = regexp.MustCompile(`\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]`)

// Structure is the parsed form of a uiautomator dump.
type Structure struct {
	Fingerprint string
	Features    []string
	Packages    []string
}

// ParseStructure parses a uiautomator XML dump. The fingerprint is computed
// bottom-up from each node's class, clickability and size with children sorted,
// so sibling order and text content do not change it.
func ParseStructure(data []byte) (Structure, error) {
	var h uiHierarchy
	if err := xml.Unmarshal(data, &h); err != nil {
		return Structure{}, fmt.Errorf("failed to parse window hierarchy: %w", err)
	}

	features := make(map[string]bool)
	packages := make(map[string]bool)
	root := uiNode{Class: "hierarchy", Children: h.Nodes}
	fp := digest(root, features, packages)

	s := Structure{Fingerprint: fp}
	for f := range features {
		s.Features = append(s.Features, f)
	}
	sort.Strings(s.Features)
	for p := range packages {
		s.Packages = append(s.Packages, p)
	}
	sort.Strings(s.Packages)
	return s, nil
}

func digest(n uiNode, features, packages map[string]bool) string {
	self := fmt.Sprintf("type=%s|clickable=%s|bounds=%s", n.Class, n.Clickable, size(n.Bounds))
	features[self] = true
	if n.Package != "" {
		packages[n.Package] = true
	}

	children := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, digest(c, features, packages))
	}
	sort.Strings(children)

	sum := md5.Sum([]byte(self + "|" + strings.Join(children, "-")))
	return hex.EncodeToString(sum[:])
}

func size(bounds string) string {
	m := boundsPattern.FindStringSubmatch(bounds)
	if m == nil {
		return "invalid_bounds"
	}
	var v [4]int
	for i := range v {
		v[i], _ = strconv.Atoi(m[i+1])
	}
	return fmt.Sprintf("%dx%d", v[2]-v[0], v[3]-v[1])
}
