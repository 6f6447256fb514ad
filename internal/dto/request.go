package dto

// CreateBlobRequest completes an upload made straight to the bucket.
type CreateBlobRequest struct {
	Name     string `json:"name" binding:"required"`
	Filename string `json:"filename" binding:"required"`
}

type DeleteBlobsRequest struct {
	Names []string `json:"names" binding:"required"`
}

// SetParentRequest links a blob to its source. A null or empty parent
// clears the link.
type SetParentRequest struct {
	Parent *string `json:"parent"`
}
