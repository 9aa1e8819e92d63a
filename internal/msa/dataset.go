package msa

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dataset holds a tokenized alignment. All sequences share the same length
// and token values lie in [0, PadIndex].
type Dataset struct {
	Sequences [][]int
	Length    int
}

// Load reads and tokenizes an aligned FASTA or A3M file.
func Load(path string) (*Dataset, error) {
	sequences, err := ParseFastaFile(path)
	if err != nil {
		return nil, err
	}
	return FromSequences(sequences)
}

// FromSequences tokenizes pre-parsed alignment rows.
func FromSequences(sequences []string) (*Dataset, error) {
	if len(sequences) == 0 {
		return nil, fmt.Errorf("msa: empty alignment")
	}
	length := len(sequences[0])
	if length == 0 {
		return nil, fmt.Errorf("msa: zero-length alignment")
	}

	tokenized := make([][]int, len(sequences))
	for i, seq := range sequences {
		if len(seq) != length {
			return nil, fmt.Errorf("msa: sequence %d has length %d, want %d", i, len(seq), length)
		}
		tokens := make([]int, length)
		for j := 0; j < length; j++ {
			tokens[j] = EncodeSymbol(seq[j])
		}
		tokenized[i] = tokens
	}
	return &Dataset{Sequences: tokenized, Length: length}, nil
}

// NumSeqs returns the number of alignment rows.
func (d *Dataset) NumSeqs() int {
	return len(d.Sequences)
}

// Counts returns the Length x VocabSize table of per-position amino acid
// counts. Gap and pad tokens are not counted.
func (d *Dataset) Counts() *mat.Dense {
	counts := mat.NewDense(d.Length, VocabSize, nil)
	for _, tokens := range d.Sequences {
		for pos, tok := range tokens {
			if tok >= 0 && tok < VocabSize {
				counts.Set(pos, tok, counts.At(pos, tok)+1)
			}
		}
	}
	return counts
}

// Batcher cycles through the dataset in shuffled minibatches. Each epoch the
// order is reshuffled.
type Batcher struct {
	dataset   *Dataset
	batchSize int
	rng       *rand.Rand
	order     []int
	cursor    int
}

// Batches returns a Batcher over the dataset. batchSize is clamped to the
// number of sequences.
func (d *Dataset) Batches(batchSize int, rng *rand.Rand) *Batcher {
	if batchSize <= 0 || batchSize > len(d.Sequences) {
		batchSize = len(d.Sequences)
	}
	b := &Batcher{dataset: d, batchSize: batchSize, rng: rng}
	b.reshuffle()
	return b
}

// Next returns the next minibatch of token sequences.
func (b *Batcher) Next() [][]int {
	if b.cursor+b.batchSize > len(b.order) {
		b.reshuffle()
	}
	batch := make([][]int, b.batchSize)
	for i := 0; i < b.batchSize; i++ {
		batch[i] = b.dataset.Sequences[b.order[b.cursor+i]]
	}
	b.cursor += b.batchSize
	return batch
}

func (b *Batcher) reshuffle() {
	if b.order == nil {
		b.order = make([]int, len(b.dataset.Sequences))
		for i := range b.order {
			b.order[i] = i
		}
	}
	if b.rng != nil {
		b.rng.Shuffle(len(b.order), func(i, j int) {
			b.order[i], b.order[j] = b.order[j], b.order[i]
		})
	}
	b.cursor = 0
}
