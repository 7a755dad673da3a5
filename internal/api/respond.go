package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// 文档注释：统一 JSON 输出
// 约束：接口结果均不缓存
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// badRequest：字段校验失败
type badRequest struct {
	field string
	msg   string
}

func (e *badRequest) Error() string {
	if e.field == "" {
		return e.msg
	}
	return e.field + ": " + e.msg
}

func invalid(field, msg string) error { return &badRequest{field: field, msg: msg} }

// writeError：校验错误为 400，其余为 500 且不暴露内部细节
func writeError(w http.ResponseWriter, err error) {
	var br *badRequest
	if errors.As(err, &br) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: br.msg, Field: br.field})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

// decodeBody：空请求体视为 {}
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return invalid("", "invalid json body")
	}
	return nil
}
