// Package contacts post-processes and scores predicted contact maps.
package contacts

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MinSeparation is the default sequence-separation window: pairs closer than
// this along the chain are trivially in contact and excluded from scoring.
const MinSeparation = 6

// Symmetrize returns (m + m^T) / 2.
func Symmetrize(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	sym := mat.NewDense(rows, cols, nil)
	sym.Add(m, m.T())
	sym.Scale(0.5, sym)
	return sym
}

// APC applies the average product correction, removing the background
// per-position coupling strength: apc[i,j] = c[i,j] - mean_i * mean_j / mean.
func APC(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	rowMeans := make([]float64, rows)
	colMeans := make([]float64, cols)
	total := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			rowMeans[i] += v
			colMeans[j] += v
			total += v
		}
	}
	for i := range rowMeans {
		rowMeans[i] /= float64(cols)
	}
	for j := range colMeans {
		colMeans[j] /= float64(rows)
	}
	mean := total / float64(rows*cols)

	corrected := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			corrected.Set(i, j, m.At(i, j)-rowMeans[i]*colMeans[j]/mean)
		}
	}
	return corrected
}

// AUC scores a predicted contact map against the true contact matrix using
// the area under the ROC curve over position pairs with |i-j| >= minSep.
// True entries greater than zero count as contacts.
func AUC(predicted, truth *mat.Dense, minSep int) (float64, error) {
	pr, pc := predicted.Dims()
	tr, tc := truth.Dims()
	if pr != tr || pc != tc {
		return 0, fmt.Errorf("contacts: predicted (%d,%d) and true (%d,%d) shapes differ", pr, pc, tr, tc)
	}
	if minSep < 1 {
		minSep = 1
	}

	var scores []float64
	var classes []bool
	positives := 0
	for i := 0; i < pr; i++ {
		for j := i + minSep; j < pc; j++ {
			scores = append(scores, predicted.At(i, j))
			isContact := truth.At(i, j) > 0
			classes = append(classes, isContact)
			if isContact {
				positives++
			}
		}
	}
	if len(scores) == 0 {
		return 0, fmt.Errorf("contacts: no scorable pairs with separation >= %d", minSep)
	}
	if positives == 0 || positives == len(scores) {
		return 0, fmt.Errorf("contacts: true contact matrix has no class variation (%d of %d positive)", positives, len(scores))
	}

	stat.SortWeightedLabeled(scores, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// ReadContacts parses a whitespace-separated contact list with 1-based
// position pairs, one "i j [value]" row per line, into a symmetric
// length x length matrix. Rows whose first two fields are not integers are
// skipped, which tolerates CASP-style headers.
func ReadContacts(path string, length int) (*mat.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	truth := mat.NewDense(length, length, nil)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	pairs := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		i, err1 := strconv.Atoi(fields[0])
		j, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			continue
		}
		if i < 1 || i > length || j < 1 || j > length {
			return nil, fmt.Errorf("contacts: %s:%d: pair (%d,%d) outside alignment length %d", path, lineNo, i, j, length)
		}
		value := 1.0
		if len(fields) >= 3 {
			v, err := strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, fmt.Errorf("contacts: %s:%d: bad value %q", path, lineNo, fields[2])
			}
			value = v
		}
		truth.Set(i-1, j-1, value)
		truth.Set(j-1, i-1, value)
		pairs++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if pairs == 0 {
		return nil, fmt.Errorf("contacts: %s contains no contact pairs", path)
	}
	return truth, nil
}

// UpperTriangle flattens the strict upper triangle of m in row-major order.
func UpperTriangle(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*(cols-1)/2)
	for i := 0; i < rows; i++ {
		for j := i + 1; j < cols; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}
