//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// Error codes in the 40001-49999 range are the client's fault, 50001-59999
// are the server's fault. Never change existing codes, only append.
var (
	ErrMalformedBody      = Error{Code: 40001, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMalformedAsset     = Error{Code: 40002, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed asset address")}
	ErrMalformedAmount    = Error{Code: 40003, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("amount must be a positive integer")}
	ErrMalformedRecipient = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed recipient key")}
	ErrIntentNotFound     = Error{Code: 40005, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("authorization intent not found")}
	ErrInsufficientFunds  = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("insufficient shielded funds")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrFlowFailed                 = Error{Code: 50003, HTTPstatus: http.StatusBadGateway, Err: fmt.Errorf("flow failed")}
)
