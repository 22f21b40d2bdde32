package domain

// PhotoPage is one entry of a photobook export. Slice order is page order.
type PhotoPage struct {
	FilePath string `json:"file_path"`
	Caption  string `json:"caption,omitempty"`
}

// Artifact describes a file produced (or, when Derived is false, passed
// through unchanged) by an operation.
type Artifact struct {
	Path    string `json:"path"`
	Format  string `json:"format"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Bytes   int    `json:"bytes,omitempty"`
	Derived bool   `json:"derived"`
}

// Export is the outcome of assembling a photobook document.
type Export struct {
	Artifact     Artifact `json:"artifact"`
	Pages        int      `json:"pages"`
	MissingPages []int    `json:"missing_pages,omitempty"`
}
