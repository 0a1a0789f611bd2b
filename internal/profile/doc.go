// Package profile persists named key-value configuration scoped to a
// profile.
//
// A profile is an isolation boundary: every persisted artifact (config,
// layout, keybindings, the enabled package set) lives under
//
//	<root>/profiles/<profile>/<namespace>.<ext>
//
// Namespaces are independent files, so a corrupt or missing file in one
// never blocks the others. Each namespace has a Codec; TOML is used for
// human-edited namespaces and JSON for the machine-written "packages"
// namespace, whose rewrites patch only the changed paths so unknown keys
// written by other versions are kept verbatim.
//
// Writes are atomic with respect to process crash: data is written to a
// temporary file in the same directory, synced, and renamed into place.
//
// Basic usage:
//
//	store := profile.New(root)
//	ns, err := store.Open("default", profile.NamespaceConfig)
//	if err != nil { ... }
//	defer ns.Close()
//	size := ns.Get("editor.tabSize", int64(4))
//	ns.Set("editor.tabSize", int64(2)) // queued until Flush or Close
package profile
