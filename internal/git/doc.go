// Package git maintains the bare repository mirrors of a backup.
//
// Every repository is mirrored at <backupPath>/<org>/<repo>.git. The package
// handles:
//   - initialising mirrors and fetching every branch and tag, without pruning
//   - ancestry checks used to tell fast-forwards from history rewrites
//   - pinning abandoned heads under a new branch name
//   - removing branch refs and whole mirrors once retention expires
//
// Transient fetch and removal failures are retried with the configured policy.
package git
