// Package datapack inspects world datapacks for the structures and loot
// tables they add or override, and hashes their content for cache keys.
package datapack

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Influence lists what a set of datapacks changes. Ids in the minecraft
// namespace are overrides, others are additions.
type Influence struct {
	AddedStructures      []string `json:"addedStructures,omitempty" yaml:"added_structures,omitempty"`
	OverriddenStructures []string `json:"overriddenStructures,omitempty" yaml:"overridden_structures,omitempty"`
	AddedLootTables      []string `json:"addedLootTables,omitempty" yaml:"added_loot_tables,omitempty"`
	OverriddenLootTables []string `json:"overriddenLootTables,omitempty" yaml:"overridden_loot_tables,omitempty"`
}

// Empty reports whether the datapacks change nothing we track.
func (in *Influence) Empty() bool {
	return len(in.AddedStructures)+len(in.OverriddenStructures)+
		len(in.AddedLootTables)+len(in.OverriddenLootTables) == 0
}

type collector struct {
	sets map[*[]string]map[string]struct{}
	out  *Influence
}

func (c *collector) add(list *[]string, id string) {
	set, ok := c.sets[list]
	if !ok {
		set = make(map[string]struct{})
		c.sets[list] = set
	}
	if _, dup := set[id]; dup {
		return
	}
	set[id] = struct{}{}
	*list = append(*list, id)
}

// Inspect walks each datapack, a directory or a .zip file. Paths that do
// not exist are skipped.
func Inspect(paths []string) (*Influence, error) {
	c := &collector{sets: make(map[*[]string]map[string]struct{}), out: &Influence{}}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat datapack %s: %w", p, err)
		}

		switch {
		case info.IsDir():
			if err := c.inspectDir(p); err != nil {
				return nil, err
			}
		case strings.EqualFold(filepath.Ext(p), ".zip"):
			if err := c.inspectZip(p); err != nil {
				return nil, err
			}
		}
	}

	sort.Strings(c.out.AddedStructures)
	sort.Strings(c.out.OverriddenStructures)
	sort.Strings(c.out.AddedLootTables)
	sort.Strings(c.out.OverriddenLootTables)
	return c.out, nil
}

func (c *collector) inspectDir(dir string) error {
	fs := osfs.New(dir)
	return util.Walk(fs, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			c.classify(path)
		}
		return nil
	})
}

func (c *collector) inspectZip(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open datapack %s: %w", path, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			c.classify("/" + f.Name)
		}
	}
	return nil
}

// classify records a file path of the form .../data/<ns>/<folder>/<id>.json.
func (c *collector) classify(path string) {
	path = strings.ReplaceAll(path, "\\", "/")
	if !strings.HasSuffix(path, ".json") {
		return
	}
	i := strings.Index(path, "/data/")
	if i < 0 {
		return
	}
	rel := path[i+len("/data/"):]

	ns, rest, ok := strings.Cut(rel, "/")
	if !ok || ns == "" {
		return
	}

	for _, kind := range []struct {
		folder    string
		structure bool
	}{
		{"worldgen/structure/", true},
		{"loot_table/", false},
		{"loot_tables/", false},
	} {
		name, found := strings.CutPrefix(rest, kind.folder)
		if !found || name == ".json" || name == "" {
			continue
		}
		id := ns + ":" + strings.TrimSuffix(name, ".json")

		vanilla := ns == "minecraft"
		switch {
		case kind.structure && vanilla:
			c.add(&c.out.OverriddenStructures, id)
		case kind.structure:
			c.add(&c.out.AddedStructures, id)
		case vanilla:
			c.add(&c.out.OverriddenLootTables, id)
		default:
			c.add(&c.out.AddedLootTables, id)
		}
	}
}

// Hash returns a content hash of a datapack directory or file. Directory
// hashes cover every file's relative path and bytes, in path order.
func Hash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat datapack %s: %w", path, err)
	}

	h := sha256.New()
	if !info.IsDir() {
		if err := hashFile(h, path); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	fs := osfs.New(path)
	var files []string
	err = util.Walk(fs, "/", func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk datapack %s: %w", path, err)
	}
	sort.Strings(files)

	for _, rel := range files {
		fmt.Fprintf(h, "%s\n", strings.TrimPrefix(filepath.ToSlash(rel), "/"))
		f, err := fs.Open(rel)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", rel, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", rel, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashAll hashes every existing datapack in paths.
func HashAll(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		sum, err := Hash(p)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	return nil
}
