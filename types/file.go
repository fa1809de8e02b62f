//nolint:revive // types is a common Go package naming convention
package types

// FileReference is an opaque remote file identifier issued by the messaging API.
// Valid only for the duration of one save operation.
type FileReference struct {
	// ID is the opaque file identifier.
	ID string `json:"id" msgpack:"id"`
	// Size is the size advertised alongside the reference, if any.
	Size *int64 `json:"size,omitempty" msgpack:"size,omitempty"`
}

// RemoteFileMetadata is the result of resolving a FileReference.
// Must be fetched before any size or naming decision is made.
type RemoteFileMetadata struct {
	// SourcePath is the remote path used for download and name derivation.
	SourcePath string
	// Size is the remote size in bytes; nil when unknown.
	Size *int64
}
