package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// FingerprintInput is everything that determines the discovered targets.
type FingerprintInput struct {
	WorldVersion string
	Seed         int64
	CenterX      int
	CenterZ      int
	Radius       int
	LocateStep   int
	Structures   []Structure
	Datapacks    []string // content hashes
}

// NormalizeVersion canonicalizes a world version so "1.21" and "1.21.0"
// fingerprint alike. Non-semver versions are only trimmed.
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if sv, err := semver.NewVersion(v); err == nil {
		return sv.String()
	}
	return v
}

// Fingerprint hashes in into a hex digest. Structure and datapack order do
// not affect the result.
func Fingerprint(in FingerprintInput) string {
	targets := make([]string, 0, len(in.Structures))
	for _, s := range in.Structures {
		targets = append(targets, s.space()+"|"+s.ID)
	}
	sort.Strings(targets)

	packs := append([]string(nil), in.Datapacks...)
	sort.Strings(packs)

	h := sha256.New()
	fmt.Fprintf(h, "version=%s\n", NormalizeVersion(in.WorldVersion))
	fmt.Fprintf(h, "seed=%d\n", in.Seed)
	fmt.Fprintf(h, "center=%d,%d\n", in.CenterX, in.CenterZ)
	fmt.Fprintf(h, "radius=%d\n", in.Radius)
	fmt.Fprintf(h, "step=%d\n", in.LocateStep)
	for _, t := range targets {
		fmt.Fprintf(h, "target=%s\n", t)
	}
	for _, p := range packs {
		fmt.Fprintf(h, "datapack=%s\n", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
