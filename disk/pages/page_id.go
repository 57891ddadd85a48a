package pages

import "fmt"

// PageID addresses a page inside a table file. Table ids are derived from file paths and page numbers are
// file-local, so both fields take part in equality.
type PageID struct {
	TableID int32
	PageNo  int
}

func NewPageID(tableID int32, pageNo int) PageID {
	return PageID{TableID: tableID, PageNo: pageNo}
}

func (p PageID) String() string {
	return fmt.Sprintf("page{table=%d, no=%d}", p.TableID, p.PageNo)
}
