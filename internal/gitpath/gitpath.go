// Package gitpath contains the constants describing the on-disk layout
// of a .git directory.
package gitpath

import "path"

// Files and directories inside a .git directory. These are always
// joined using forward slashes: the backend is in charge of converting
// them to the host's native separator.
const (
	DotGit      = ".git"
	Config      = "config"
	Description = "description"
	PackedRefs  = "packed-refs"
	HEAD        = "HEAD"
	Index       = "index"

	Objects     = "objects"
	ObjectsInfo = Objects + "/info"
	ObjectsPack = Objects + "/pack"

	Refs       = "refs"
	RefsTags   = Refs + "/tags"
	RefsHeads  = Refs + "/heads"
	RefsRemote = Refs + "/remotes"
)

// LocalTagFullName returns the full ref name of a tag, e.g. "my-tag" ->
// "refs/tags/my-tag".
func LocalTagFullName(shortName string) string {
	return path.Join(RefsTags, shortName)
}

// LocalBranchFullName returns the full ref name of a branch, e.g. "main"
// -> "refs/heads/main".
func LocalBranchFullName(shortName string) string {
	return path.Join(RefsHeads, shortName)
}

// LooseObjectPath returns the path of a loose object relative to the
// object directory: the first two hex characters of the digest name a
// directory, the rest name the file.
// Ex. fcfe68a0e44e04bd7fd564fc0b75f1ae457e18b3 ->
// fc/fe68a0e44e04bd7fd564fc0b75f1ae457e18b3
func LooseObjectPath(hexOid string) string {
	return path.Join(hexOid[:2], hexOid[2:])
}
