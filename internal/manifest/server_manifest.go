package manifest

import "sort"

// ServerFile is one (path, base64 MD5) pair destined for the managed
// store's batch-create-artifact-files call: the manifest JSON itself, plus
// every physical file staged through new_file (entries with no Ref whose
// path appears in newFilePaths).
type ServerFile struct {
	Path      string
	MD5Base64 string
}

// ServerManifest lists, in full lexicographic path order, every file the
// managed store must receive alongside an artifact commit: the rendered
// manifest document under the fixed name "wandb_manifest.json" and every
// new_file-staged entry's local bytes keyed by its artifact-relative
// path. Files added through add_file or add_dir are not included here —
// only new_file's physical writes need a matching server-side upload
// record.
type ServerManifest struct {
	Files []ServerFile
}

// manifestFileName is the fixed path the rendered manifest document is
// uploaded under, matching the managed store's expectation.
const manifestFileName = "wandb_manifest.json"

// BuildServerManifest combines the base64 MD5 of the rendered manifest
// document (computed by the caller via hashutil.StringMD5Base64 over the
// marshaled JSON) with the base64 MD5 of every owned (non-reference) entry
// whose path is in newFilePaths, producing the full upload set for a
// finalize call. The result is sorted lexicographically by path over the
// complete set, including the manifest document itself — it has no fixed
// position.
func BuildServerManifest(m *Manifest, manifestMD5Base64 string, newFilePaths map[string]bool) *ServerManifest {
	files := make([]ServerFile, 0, len(newFilePaths)+1)
	files = append(files, ServerFile{Path: manifestFileName, MD5Base64: manifestMD5Base64})

	for _, e := range m.Entries() {
		if e.Ref != nil {
			continue
		}
		if !newFilePaths[e.Path] {
			continue
		}
		files = append(files, ServerFile{Path: e.Path, MD5Base64: e.Digest})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return &ServerManifest{Files: files}
}
