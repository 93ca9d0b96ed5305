package plan

import (
	"path"
	"sort"
	"strings"

	"github.com/tino-kuptz/push-to/internal/asset"
	"github.com/tino-kuptz/push-to/internal/filesystem"
	"github.com/tino-kuptz/push-to/internal/pattern"
)

// Input holds two scanned listings and the rules for comparing them.
type Input struct {
	SourceFiles []string
	SourceBase  string
	TargetFiles []string
	TargetBase  string

	// DontOverride protects matching target paths from being uploaded to
	// and from being deleted.
	DontOverride pattern.Set
	// DontDelete protects matching target paths from being deleted.
	DontDelete pattern.Set

	Assets asset.ExtensionSet
}

// Build compares the listings in in and returns the plan that makes the
// target mirror the source. It never fails; pattern sets are validated
// when they are parsed.
//
// Every source file outside DontOverride is copied, whether or not the
// target already has it. Directories are derived from file parents and
// the target base itself is never created or deleted.
func Build(in Input) *Plan {
	b := &builder{
		in:         in,
		sourceBase: filesystem.CleanPath(in.SourceBase),
		targetBase: filesystem.CleanPath(in.TargetBase),
		plan:       &Plan{},
	}

	sourceFiles := sorted(in.SourceFiles)
	targetFiles := sorted(in.TargetFiles)

	b.createDirectories(sourceFiles, targetFiles)
	b.uploadFiles(sourceFiles)
	b.deleteFiles(targetFiles)
	b.deleteDirectories(targetFiles)

	return b.plan
}

type builder struct {
	in         Input
	sourceBase string
	targetBase string
	plan       *Plan

	// rebasedFiles holds every source file mapped onto the target side.
	rebasedFiles map[string]bool
	// rebasedDirs holds every non-root source directory mapped onto the
	// target side.
	rebasedDirs map[string]bool
	// protected holds target files skipped by a pattern.
	protected []string
}

func (b *builder) rebase(sourcePath string) (rel, target string) {
	rel = filesystem.RelativePath(b.sourceBase, sourcePath)
	return rel, filesystem.Rebase(b.targetBase, rel)
}

func (b *builder) createDirectories(sourceFiles, targetFiles []string) {
	targetDirs := toSet(directories(targetFiles))
	b.rebasedDirs = make(map[string]bool)

	for _, dir := range directories(sourceFiles) {
		rel, target := b.rebase(dir)
		if filesystem.IsRoot(rel) {
			continue
		}
		b.rebasedDirs[target] = true
		if !targetDirs[target] {
			b.plan.add(Operation{Action: CreateDirectory, TargetPath: target, Phase: CreateDirectories})
		}
	}
}

func (b *builder) uploadFiles(sourceFiles []string) {
	b.rebasedFiles = make(map[string]bool, len(sourceFiles))

	for _, src := range sourceFiles {
		rel, target := b.rebase(src)
		b.rebasedFiles[target] = true

		if b.in.DontOverride.Match(rel) {
			continue
		}

		phase := UploadLogic
		if b.in.Assets.IsAsset(src) {
			phase = UploadAssets
		}
		b.plan.add(Operation{Action: Copy, SourcePath: src, TargetPath: target, Phase: phase})
	}
}

func (b *builder) deleteFiles(targetFiles []string) {
	for _, target := range targetFiles {
		rel := filesystem.RelativePath(b.targetBase, target)

		if b.in.DontDelete.Match(rel) || b.in.DontOverride.Match(rel) {
			b.protected = append(b.protected, target)
			continue
		}
		if b.rebasedFiles[target] {
			continue
		}

		phase := DeleteOldLogic
		if b.in.Assets.IsAsset(target) {
			phase = DeleteOldAssets
		}
		b.plan.add(Operation{Action: DeleteFile, TargetPath: target, Phase: phase})
	}
}

// deleteDirectories removes target directories that have no source
// counterpart. Directory deletion is recursive, so a directory is kept
// when it still encloses a source directory or a protected file, and
// nested candidates collapse into their outermost ancestor.
func (b *builder) deleteDirectories(targetFiles []string) {
	keep := make(map[string]bool)
	for dir := range b.rebasedDirs {
		b.markAncestors(keep, dir)
	}
	for _, f := range b.protected {
		b.markAncestors(keep, path.Dir(f))
	}

	deleted := make(map[string]bool)
	for _, dir := range directories(targetFiles) {
		rel := filesystem.RelativePath(b.targetBase, dir)
		if filesystem.IsRoot(rel) || !b.insideTarget(dir) || keep[dir] {
			continue
		}
		if b.hasDeletedAncestor(deleted, dir) {
			continue
		}
		deleted[dir] = true
		b.plan.add(Operation{Action: DeleteDirectory, TargetPath: dir, Phase: DeleteOldDirectories})
	}
}

// markAncestors marks dir and each parent up to, but excluding, the
// target base.
func (b *builder) markAncestors(set map[string]bool, dir string) {
	for b.insideTarget(dir) && !set[dir] {
		set[dir] = true
		dir = path.Dir(dir)
	}
}

func (b *builder) hasDeletedAncestor(deleted map[string]bool, dir string) bool {
	for p := path.Dir(dir); b.insideTarget(p); p = path.Dir(p) {
		if deleted[p] {
			return true
		}
	}
	return false
}

// insideTarget reports whether dir lies strictly below the target base.
func (b *builder) insideTarget(dir string) bool {
	if dir == "" || dir == "/" || dir == "." {
		return false
	}
	base := strings.TrimSuffix(b.targetBase, "/")
	if base == "" {
		return true
	}
	if base == "." {
		// Scans of "." list paths without a prefix.
		return !strings.HasPrefix(dir, "/") && dir != ".." && !strings.HasPrefix(dir, "../")
	}
	return strings.HasPrefix(dir, base+"/")
}

// directories returns the sorted distinct parent directories of files.
func directories(files []string) []string {
	set := make(map[string]bool)
	for _, f := range files {
		set[path.Dir(f)] = true
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
