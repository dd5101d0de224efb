package tdb

// tx.go gives embedders a single handle per transaction, per spec
// §4.1.1/§6's transactional surface, rather than exposing Group/Column/
// Index construction directly. Grounded on the teacher's MariTx
// (sirgallo/mari Transaction.go): a thin wrapper carrying an isWrite
// flag that Put/Delete check before touching anything, generalized
// from the teacher's single fixed key-value trie to this engine's
// multi-table directory -- a Tx here names which table it means on
// every call instead of operating on one implicit root.
type Tx struct {
	group   *Group
	isWrite bool
}

const errReadOnlyTx = "attempting to perform a write in a read-only transaction, use db.Update"

// CreateTable adds a new, empty table.
func (tx *Tx) CreateTable(name string) (*Column, error) {
	if !tx.isWrite {
		return nil, invariantErr(errReadOnlyTx)
	}
	return tx.group.CreateTable(name)
}

// Table opens an existing table for reading or writing. Callers that
// mutate the returned Column must call SaveTable afterward so the
// group's directory picks up the column's new root.
func (tx *Tx) Table(name string) (*Column, bool) {
	return tx.group.Table(name)
}

// SaveTable repoints name at col's current root. Required after any
// Column.Insert/Set/Erase call against a column obtained from Table,
// since those calls produce a new root via copy-on-write rather than
// mutating the table in place.
func (tx *Tx) SaveTable(name string, col *Column) error {
	if !tx.isWrite {
		return invariantErr(errReadOnlyTx)
	}
	return tx.group.UpdateTable(name, col)
}

// BuildIndex builds (or rebuilds) name's ordered secondary index over
// its current contents.
func (tx *Tx) BuildIndex(name string) (*Index, error) {
	if !tx.isWrite {
		return nil, invariantErr(errReadOnlyTx)
	}
	return tx.group.BuildIndex(name)
}

// Index returns name's secondary index, if one has been built.
func (tx *Tx) Index(name string) (*Index, bool) {
	return tx.group.Index(name)
}

// SaveIndex repoints name's index at idx's current root, the Index
// analog of SaveTable.
func (tx *Tx) SaveIndex(name string, idx *Index) error {
	if !tx.isWrite {
		return invariantErr(errReadOnlyTx)
	}
	return tx.group.UpdateIndex(name, idx)
}

// TableNames lists the tables in the snapshot this Tx is reading or
// writing, in creation order.
func (tx *Tx) TableNames() []string {
	return tx.group.TableNames()
}
