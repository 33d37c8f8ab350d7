package webapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	tipjar "github.com/surgesocial/tipjar/pkg"
)

var httpCodeForError = map[string]int{
	string(tipjar.BadRequest):    400,
	string(tipjar.SelfTip):       400,
	string(tipjar.DuplicateTx):   400,
	string(tipjar.NotAvailable):  503,
	string(tipjar.NotFound):      404,
	string(tipjar.AlreadyExists): 409,
	string(tipjar.DBConflict):    503,
	string(tipjar.Unauthorized):  401,
	string(tipjar.UnknownError):  500,
}

func HttpStatusForError(code tipjar.ErrorCode) int {
	status, found := httpCodeForError[string(code)]
	if !found {
		status = http.StatusInternalServerError
	}
	return status
}

func sendResponse(w http.ResponseWriter, payload any) {
	// note: w.Header after this, so we can call sendError
	b, err := json.Marshal(payload)
	if err != nil {
		sendErrorResponse(w, http.StatusInternalServerError, tipjar.UnknownError, fmt.Sprintf("in json.Marshal: %s", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store") // do not cache (Browsers cache GET forever by default)
	w.Write(b)
}

func sendBadRequest(w http.ResponseWriter, message string) {
	sendErrorResponse(w, http.StatusBadRequest, tipjar.BadRequest, message)
}

func sendError(w http.ResponseWriter, where string, err error) {
	var info *tipjar.ErrorInfo
	if errors.As(err, &info) {
		status := HttpStatusForError(info.Code)
		message := fmt.Sprintf("%s: %s", where, info.Message)
		sendErrorResponse(w, status, info.Code, message)
	} else {
		message := fmt.Sprintf("%s: %s", where, err.Error())
		sendErrorResponse(w, http.StatusInternalServerError, tipjar.UnknownError, message)
	}
}

func sendErrorResponse(w http.ResponseWriter, statusCode int, code tipjar.ErrorCode, message string) {
	log.Printf("[!] %s: %s\n", code, message)
	// would prefer to use json.Marshal, but this avoids the need
	// to handle encoding errors arising from json.Marshal itself!
	payload := fmt.Sprintf("{\"error\":{\"code\":%q,\"message\":%q}}", code, message)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store") // do not cache (Browsers cache GET forever by default)
	w.WriteHeader(statusCode)
	w.Write([]byte(payload))
}

// parsePaging reads optional ?cursor=&limit= (limit 1..100, default 10).
func parsePaging(r *http.Request) (cursor int64, limit int, err error) {
	limit = 10
	qs := r.URL.Query()
	if s := qs.Get("cursor"); s != "" {
		cursor, err = strconv.ParseInt(s, 10, 64)
		if err != nil || cursor < 0 {
			return 0, 0, tipjar.NewErr(tipjar.BadRequest, "invalid cursor in URL")
		}
	}
	if s := qs.Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 1 {
			return 0, 0, tipjar.NewErr(tipjar.BadRequest, "invalid limit in URL")
		}
		if limit > 100 {
			return 0, 0, tipjar.NewErr(tipjar.BadRequest, "invalid limit in URL (cannot be greater than 100)")
		}
	}
	return cursor, limit, nil
}
