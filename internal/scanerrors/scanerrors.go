// Package scanerrors defines the sentinel error taxonomy the block-scanning
// core surfaces to its callers. Components wrap one of these with
// fmt.Errorf("...: %w", ...) at the point of origin so callers can branch
// with errors.Is/errors.As instead of matching on error strings.
package scanerrors

import "errors"

var (
	// ErrConfig signals a bad path, a missing blk file 0, or an unreadable
	// directory. Fatal at startup.
	ErrConfig = errors.New("scan: configuration error")

	// ErrFormat signals wrong network magic, an unparseable header, or a
	// transaction whose declared lengths don't add up. The frame scan logs
	// and resyncs past a bad magic tag; other format errors are returned to
	// the caller and end the current reconcile or batch.
	ErrFormat = errors.New("scan: block format error")

	// ErrCorruptHeaderDB signals that HeaderReconciler could not find the
	// persisted chain top in any block file. Forces a rebuild from height 0.
	ErrCorruptHeaderDB = errors.New("scan: header database inconsistent")

	// ErrRange signals a request for a height beyond the current chain top.
	ErrRange = errors.New("scan: height beyond chain top")

	// ErrStore signals the key/value store refused a write. Fatal: the scan
	// aborts without updating the TopScannedHash sentinel.
	ErrStore = errors.New("scan: store write failed")

	// ErrCancelled names the external stop flag being raised. No component
	// returns it: a cancelled Pipeline.Scan returns nil, the same as a
	// finished one.
	ErrCancelled = errors.New("scan: cancelled")
)
