// Package report prints the upload audit trail for operators.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"loanmatch/pkg/store"
)

// Run prints up to limit audit records, newest first, as id|file|uploaded|total|ok|failed|status.
func Run(ctx context.Context, w io.Writer, st *store.Store, limit int) error {
	uploads, err := st.ListUploads(ctx, limit)
	if err != nil {
		return err
	}
	sum, err := st.Summary(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Uploads (latest %d):\n", len(uploads))
	var total, ok, failed int
	for _, u := range uploads {
		fmt.Fprintf(w, "%d|%s|%s|%d|%d|%d|%s\n", u.ID, u.Filename, u.UploadedAt.UTC().Format(time.RFC3339),
			u.TotalRecords, u.SuccessfulRecords, u.FailedRecords, u.Status)
		total += u.TotalRecords
		ok += u.SuccessfulRecords
		failed += u.FailedRecords
	}
	fmt.Fprintf(w, "  records=%d successful=%d failed=%d\n", total, ok, failed)
	fmt.Fprintf(w, "  users=%d products=%d matches=%d notified=%d\n", sum.TotalUsers, sum.TotalProducts, sum.TotalMatches, sum.NotifiedMatches)
	return nil
}

// RunOne prints a single audit record followed by its error log.
func RunOne(ctx context.Context, w io.Writer, st *store.Store, id uint) error {
	u, err := st.GetUpload(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Upload %d: %s\n", u.ID, u.Filename)
	fmt.Fprintf(w, "  uploaded=%s status=%s\n", u.UploadedAt.UTC().Format(time.RFC3339), u.Status)
	fmt.Fprintf(w, "  records=%d successful=%d failed=%d\n", u.TotalRecords, u.SuccessfulRecords, u.FailedRecords)
	if u.ErrorLog == nil {
		fmt.Fprintln(w, "  no errors")
		return nil
	}
	fmt.Fprintln(w, "  errors:")
	for _, line := range strings.Split(*u.ErrorLog, "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
	return nil
}
