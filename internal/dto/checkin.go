package dto

// ScanRequest carries one scanned QR payload.
type ScanRequest struct {
	Token string `json:"token" validate:"required,max=256"`
}

// BatchScanRequest carries tokens collected offline by a scanner.
type BatchScanRequest struct {
	Tokens []string `json:"tokens" validate:"required,min=1,max=200,dive,required,max=256"`
}

// BoardQuery selects the venue board day.
type BoardQuery struct {
	Date string `form:"date" validate:"omitempty,datetime=2006-01-02"`
}

// RosterQuery selects the roster day and output format.
type RosterQuery struct {
	Date   string `form:"date" validate:"omitempty,datetime=2006-01-02"`
	Format string `form:"format" validate:"omitempty,oneof=csv pdf"`
}

// QRQuery sizes the rendered QR image.
type QRQuery struct {
	Size int `form:"size" validate:"omitempty,min=128,max=1024"`
}
