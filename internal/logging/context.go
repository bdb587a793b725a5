package logging

import (
	"log/slog"

	util "github.com/bietkhonhungvandi212/heapdb/internal/utils"
)

// TxAttr tags a record with the transaction id
func TxAttr(tid util.TransactionID) slog.Attr {
	return slog.Uint64("tx_id", uint64(tid))
}

// PageAttr tags a record with a page identity as a "page" group
func PageAttr(pid util.PageID) slog.Attr {
	return slog.Group("page",
		slog.Uint64("table_id", uint64(pid.TableID)),
		slog.Uint64("page_no", uint64(pid.PageNo)))
}

func TableAttr(id util.TableID) slog.Attr {
	return slog.Uint64("table_id", uint64(id))
}

func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}
