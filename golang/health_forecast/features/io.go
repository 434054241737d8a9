package features

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

//ReadTable reads an already merged per-day table from CSV with a header row.
//Columns holding a non-numeric cell are skipped unless they are required, in which case
//the cell is reported as an error.
func ReadTable(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, errors.Wrap(err, "read csv")
	}
	if len(records) == 0 {
		return Table{}, errors.Wrap(ErrEmptyDataset, "csv has no header")
	}

	required := make(map[string]bool, len(RequiredColumns))
	for _, name := range RequiredColumns {
		required[name] = true
	}

	table := Table{Columns: make(map[string][]float64)}
	for q, name := range records[0] {
		name = strings.TrimSpace(name)
		values := make([]float64, 0, len(records)-1)
		numeric := true
		for p, record := range records[1:] {
			value, err := strconv.ParseFloat(strings.TrimSpace(record[q]), 64)
			if err != nil {
				if required[name] {
					return Table{}, errors.Wrapf(err, "line %d column %q", p+2, name)
				}
				numeric = false
				break
			}
			values = append(values, value)
		}
		if numeric {
			table.Names = append(table.Names, name)
			table.Columns[name] = values
		}
	}
	return table, nil
}

//ReadTableFile opens fileName and reads it with ReadTable.
func ReadTableFile(fileName string) (Table, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return Table{}, errors.Wrap(err, "open table")
	}
	defer f.Close()
	return ReadTable(f)
}

//ReadNpy reads a two dimensional numpy array.
func ReadNpy(r io.Reader) (*mat.Dense, error) {
	npyReader, err := npyio.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "npy header")
	}
	denseMat := &mat.Dense{}
	if err := npyReader.Read(denseMat); err != nil {
		return nil, errors.Wrap(err, "npy data")
	}
	return denseMat, nil
}

//ReadNpyFile reads the content of an npy file.
func ReadNpyFile(fileName string) (*mat.Dense, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "open npy")
	}
	defer f.Close()
	return ReadNpy(f)
}

//WriteNpy writes a matrix in numpy format.
func WriteNpy(w io.Writer, m mat.Matrix) error {
	return errors.Wrap(npyio.Write(w, m), "write npy")
}

//WriteNpyFile writes a matrix into an npy file.
func WriteNpyFile(fileName string, m mat.Matrix) error {
	dst, err := os.Create(fileName)
	if err != nil {
		return errors.Wrap(err, "create npy")
	}
	if err := WriteNpy(dst, m); err != nil {
		dst.Close()
		return err
	}
	return errors.Wrap(dst.Close(), "close npy")
}

//Column wraps a vector as an h x 1 matrix, the layout used for targets and predictions.
func Column(values []float64) *mat.Dense {
	return mat.NewDense(len(values), 1, append([]float64(nil), values...))
}

//TableMatrix packs the required columns of a table into an h x 4 matrix in
//RequiredColumns order.
func TableMatrix(table Table) (*mat.Dense, error) {
	x, y, err := Extract(table)
	if err != nil {
		return nil, err
	}
	h, w := x.Dims()
	result := mat.NewDense(h, w+1, nil)
	result.Slice(0, h, 0, w).(*mat.Dense).Copy(x)
	result.SetCol(w, y)
	return result, nil
}

//TableFromMatrix is the inverse of TableMatrix.
func TableFromMatrix(m *mat.Dense) (Table, error) {
	_, w := m.Dims()
	if w != len(RequiredColumns) {
		return Table{}, errors.Wrapf(ErrShape, "expected %d columns, got %d", len(RequiredColumns), w)
	}
	table := Table{Columns: make(map[string][]float64, w)}
	for q, name := range RequiredColumns {
		table.Names = append(table.Names, name)
		table.Columns[name] = mat.Col(nil, q, m)
	}
	return table, nil
}
