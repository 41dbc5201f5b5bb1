package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) ECode() int      { return e.Code }
func (e CodeError) EMsg() string    { return e.Msg }
func (e CodeError) DDetail() string { return e.Detail }

func (e CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// WrapMsg attaches detail built from msg plus alternating key/value pairs.
func (e CodeError) WrapMsg(msg string, kv ...any) error {
	ret := e
	if msg != "" || len(kv) > 0 {
		detail := kvString(msg, kv)
		if ret.Detail == "" {
			ret.Detail = detail
		} else {
			ret.Detail += ", " + detail
		}
	}
	return ret
}

// Is matches on taxonomy code only, so detail-wrapped copies still compare equal.
func (e CodeError) Is(err error) bool {
	var codeErr CodeError
	if !errors.As(err, &codeErr) {
		return false
	}
	return e.Code == codeErr.Code
}

const initialCapacity = 3

func (e CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// Code extracts the taxonomy code carried by err; 0 when err is not a CodeError.
func Code(err error) int {
	var codeErr CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return 0
}

func kvString(msg string, kv []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%v=", kv[i])
		if i+1 < len(kv) {
			fmt.Fprintf(&b, "%v", kv[i+1])
		}
	}
	return b.String()
}
