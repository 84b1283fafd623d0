package api

// FileObject is returned from the files endpoints.
type FileObject struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
}

type ListFilesResponse struct {
	Object string       `json:"object"`
	Data   []FileObject `json:"data"`
}

type DeleteFileStatus struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type ChunksRequest struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	ChunkCapacity int    `json:"chunk_capacity"`
}

type ChunksResponse struct {
	ID     string   `json:"id"`
	Chunks []string `json:"chunks"`
}
