// Package retail loads a retail transactions dataset (customers, articles and
// the purchases connecting them) into the id spaces and tensors the sampling
// and baseline layers consume: contiguous int32 ids per node type, the edge
// list as a tensor, and small per-node feature matrices.
//
// The three CSV files follow the H&M Kaggle dataset layout. Since parsing the
// CSVs is by far the slowest step, the derived bundle is cached with gob under
// `<dir>/derived/` and reloaded on subsequent runs.
package retail

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/recommenders/sparse"
	"github.com/pkg/errors"
)

// CSV files expected under the data directory.
const (
	CustomersFile    = "customers.csv"
	ArticlesFile     = "articles.csv"
	TransactionsFile = "transactions_train.csv"

	derivedDir = "derived"
	cacheFile  = "retail.bin"
)

// Data is the loaded dataset: node id spaces, interaction edges and feature
// tensors. It is read-only after Load.
type Data struct {
	// CustomerIDs and ArticleIDs map the contiguous int32 ids back to the
	// original dataset ids.
	CustomerIDs, ArticleIDs []string

	// Edges holds one (customer, article) pair per transaction, shaped
	// (Int32)[N, 2]. Repeat purchases appear once per transaction.
	Edges *tensors.Tensor

	// CustomerFeatures is shaped (Float32)[numCustomers, 3] and
	// ArticleFeatures (Float32)[numArticles, 5]. See buildCustomerFeatures
	// and buildArticleFeatures for the columns.
	CustomerFeatures, ArticleFeatures *tensors.Tensor

	customerIndex, articleIndex map[string]int32
}

// NumCustomers returns the number of customers.
func (d *Data) NumCustomers() int { return len(d.CustomerIDs) }

// NumArticles returns the number of articles.
func (d *Data) NumArticles() int { return len(d.ArticleIDs) }

// NumTransactions returns the number of interaction edges.
func (d *Data) NumTransactions() int { return d.Edges.Shape().Dimensions[0] }

// CustomerIndex returns the contiguous id of the given original customer id.
func (d *Data) CustomerIndex(id string) (int32, bool) {
	idx, found := d.customerIndex[id]
	return idx, found
}

// ArticleIndex returns the contiguous id of the given original article id.
func (d *Data) ArticleIndex(id string) (int32, bool) {
	idx, found := d.articleIndex[id]
	return idx, found
}

// String returns a short description of the dataset.
func (d *Data) String() string {
	return fmt.Sprintf("retail.Data: %s customers, %s articles, %s transactions",
		humanize.Comma(int64(d.NumCustomers())), humanize.Comma(int64(d.NumArticles())),
		humanize.Comma(int64(d.NumTransactions())))
}

// InteractionMatrix builds the binary customer×article interaction matrix:
// entry (c, a) is 1 if customer c ever bought article a, repeat purchases
// collapsed by a max-coalesce.
func (d *Data) InteractionMatrix() *sparse.Matrix {
	numEdges := d.NumTransactions()
	rows := make([]int32, numEdges)
	cols := make([]int32, numEdges)
	tensors.MustConstFlatData[int32](d.Edges, func(flat []int32) {
		for edge := 0; edge < numEdges; edge++ {
			rows[edge], cols[edge] = flat[edge<<1], flat[edge<<1+1]
		}
	})
	values := make([]float32, numEdges)
	for ii := range values {
		values[ii] = 1
	}
	return sparse.FromCOO(d.NumCustomers(), d.NumArticles(), rows, cols, values).
		Coalesce(sparse.ReduceMax)
}

// Load reads the dataset from dir, preferring the gob cache under
// `<dir>/derived/` when present. On a cache miss it parses the CSVs, builds
// the derived bundle and writes the cache back.
func Load(dir string) (*Data, error) {
	cachePath := filepath.Join(dir, derivedDir, cacheFile)
	if d, err := loadCache(cachePath); err == nil {
		return d, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	d, err := loadCSVs(dir)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(filepath.Join(dir, derivedDir), 0777); err != nil {
		return nil, errors.Wrapf(err, "creating cache directory for %q", cachePath)
	}
	if err = d.saveCache(cachePath); err != nil {
		return nil, err
	}
	return d, nil
}

func loadCSVs(dir string) (*Data, error) {
	customers, err := readCSV(filepath.Join(dir, CustomersFile), map[string]series.Type{
		"customer_id":            series.String,
		"age":                    series.Float,
		"club_member_status":     series.String,
		"fashion_news_frequency": series.String,
	})
	if err != nil {
		return nil, err
	}
	articles, err := readCSV(filepath.Join(dir, ArticlesFile), map[string]series.Type{
		"article_id":              series.String,
		"product_type_no":         series.Float,
		"graphical_appearance_no": series.Float,
		"colour_group_code":       series.Float,
		"section_no":              series.Float,
		"garment_group_no":        series.Float,
	})
	if err != nil {
		return nil, err
	}
	transactions, err := readCSV(filepath.Join(dir, TransactionsFile), map[string]series.Type{
		"customer_id": series.String,
		"article_id":  series.String,
	})
	if err != nil {
		return nil, err
	}

	d := &Data{
		CustomerIDs: customers.Col("customer_id").Records(),
		ArticleIDs:  articles.Col("article_id").Records(),
	}
	d.buildIndices()
	d.CustomerFeatures = buildCustomerFeatures(customers)
	d.ArticleFeatures = buildArticleFeatures(articles)

	customerCol := transactions.Col("customer_id").Records()
	articleCol := transactions.Col("article_id").Records()
	flat := make([]int32, 0, 2*len(customerCol))
	for row := range customerCol {
		customer, found := d.customerIndex[customerCol[row]]
		if !found {
			return nil, errors.Errorf("transaction %d references unknown customer %q", row, customerCol[row])
		}
		article, found := d.articleIndex[articleCol[row]]
		if !found {
			return nil, errors.Errorf("transaction %d references unknown article %q", row, articleCol[row])
		}
		flat = append(flat, customer, article)
	}
	d.Edges = tensors.FromFlatDataAndDimensions(flat, len(customerCol), 2)
	return d, nil
}

func readCSV(filePath string, types map[string]series.Type) (dataframe.DataFrame, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(err, "opening %q", filePath)
	}
	defer func() { _ = f.Close() }()
	df := dataframe.ReadCSV(f, dataframe.HasHeader(true), dataframe.WithTypes(types))
	if df.Err != nil {
		return dataframe.DataFrame{}, errors.Wrapf(df.Err, "parsing %q", filePath)
	}
	return df, nil
}

func (d *Data) buildIndices() {
	d.customerIndex = make(map[string]int32, len(d.CustomerIDs))
	for ii, id := range d.CustomerIDs {
		d.customerIndex[id] = int32(ii)
	}
	d.articleIndex = make(map[string]int32, len(d.ArticleIDs))
	for ii, id := range d.ArticleIDs {
		d.articleIndex[id] = int32(ii)
	}
}

// buildCustomerFeatures assembles [age/100, club member active, gets fashion
// news] per customer. Missing ages become 0.
func buildCustomerFeatures(customers dataframe.DataFrame) *tensors.Tensor {
	const width = 3
	ages := customers.Col("age").Float()
	club := customers.Col("club_member_status").Records()
	news := customers.Col("fashion_news_frequency").Records()
	flat := make([]float32, customers.Nrow()*width)
	for row := 0; row < customers.Nrow(); row++ {
		if !math.IsNaN(ages[row]) {
			flat[row*width] = float32(ages[row] / 100)
		}
		if club[row] == "ACTIVE" {
			flat[row*width+1] = 1
		}
		if news[row] != "" && news[row] != "NONE" {
			flat[row*width+2] = 1
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, customers.Nrow(), width)
}

// buildArticleFeatures assembles the scaled categorical codes
// [product_type_no, graphical_appearance_no, colour_group_code, section_no,
// garment_group_no] per article.
func buildArticleFeatures(articles dataframe.DataFrame) *tensors.Tensor {
	columns := []string{
		"product_type_no", "graphical_appearance_no", "colour_group_code",
		"section_no", "garment_group_no",
	}
	width := len(columns)
	flat := make([]float32, articles.Nrow()*width)
	for col, name := range columns {
		values := articles.Col(name).Float()
		for row := 0; row < articles.Nrow(); row++ {
			if !math.IsNaN(values[row]) {
				flat[row*width+col] = float32(values[row] / 1000)
			}
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, articles.Nrow(), width)
}

func (d *Data) saveCache(filePath string) (err error) {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save dataset cache", filePath)
	}
	enc := gob.NewEncoder(f)
	if err = enc.Encode(d.CustomerIDs); err == nil {
		err = enc.Encode(d.ArticleIDs)
	}
	if err != nil {
		return errors.WithMessagef(err, "encoding id maps to %q", filePath)
	}
	for _, t := range []*tensors.Tensor{d.Edges, d.CustomerFeatures, d.ArticleFeatures} {
		if err = t.GobSerialize(enc); err != nil {
			return errors.WithMessagef(err, "encoding tensors to %q", filePath)
		}
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing %q, where dataset cache was saved", filePath)
	}
	return nil
}

// loadCache reloads the derived bundle. If filePath doesn't exist, it returns
// an error that can be checked with os.IsNotExist.
func loadCache(filePath string) (d *Data, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "trying to load dataset cache from %q", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(f)
	d = &Data{}
	if err = dec.Decode(&d.CustomerIDs); err == nil {
		err = dec.Decode(&d.ArticleIDs)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding id maps from %q", filePath)
	}
	for _, target := range []**tensors.Tensor{&d.Edges, &d.CustomerFeatures, &d.ArticleFeatures} {
		if *target, err = tensors.GobDeserialize(dec); err != nil {
			return nil, errors.WithMessagef(err, "decoding tensors from %q", filePath)
		}
	}
	d.buildIndices()
	return d, nil
}
