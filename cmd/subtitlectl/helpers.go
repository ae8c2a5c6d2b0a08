package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

func tabStatus(s protocol.TabState) string {
	switch {
	case s.IsLoading:
		return "loading"
	case s.IsActive:
		return "active"
	case s.Error != nil:
		return "error"
	default:
		return "idle"
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "-"
}

func printRaw(out io.Writer, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = out.Write(raw)
		return err
	}
	_, err := fmt.Fprintln(out, buf.String())
	return err
}
