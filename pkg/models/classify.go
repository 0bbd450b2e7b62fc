package models

// ClassifyResult is one classified record returned by the external worker
// pool for a dispatched item.
type ClassifyResult struct {
	WarcID string `json:"warcId"`
	URI    string `json:"uri"`
	Text   string `json:"text"`
}

// ErrorResult is the failure payload of a job callback. Mutually exclusive
// with a classify payload.
type ErrorResult struct {
	Code    int     `json:"code"`
	Message *string `json:"message,omitempty"`
}
