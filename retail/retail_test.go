package retail

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	customersCSV = `customer_id,FN,Active,club_member_status,fashion_news_frequency,age,postal_code
c0,1.0,1.0,ACTIVE,Regularly,25,z1
c1,,,PRE-CREATE,NONE,,z2
c2,1.0,1.0,ACTIVE,NONE,50,z3
`
	articlesCSV = `article_id,product_code,prod_name,product_type_no,product_group_name,graphical_appearance_no,colour_group_code,section_no,garment_group_no
0108775015,108775,Strap top,253,Garment Upper body,1010016,9,16,1002
0111586001,111586,Shorts,302,Garment Lower body,1010016,11,23,1021
`
	transactionsCSV = `t_dat,customer_id,article_id,price,sales_channel_id
2020-09-01,c0,0108775015,0.01,2
2020-09-02,c0,0108775015,0.01,1
2020-09-02,c0,0111586001,0.03,2
2020-09-03,c2,0111586001,0.03,2
`
)

func writeTestData(t *testing.T) string {
	dir := t.TempDir()
	for name, contents := range map[string]string{
		CustomersFile:    customersCSV,
		ArticlesFile:     articlesCSV,
		TransactionsFile: transactionsCSV,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0666))
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeTestData(t)
	d, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 3, d.NumCustomers())
	assert.Equal(t, 2, d.NumArticles())
	assert.Equal(t, 4, d.NumTransactions())

	idx, found := d.CustomerIndex("c2")
	require.True(t, found)
	assert.Equal(t, int32(2), idx)
	idx, found = d.ArticleIndex("0111586001")
	require.True(t, found)
	assert.Equal(t, int32(1), idx)
	_, found = d.ArticleIndex("missing")
	assert.False(t, found)

	var edges []int32
	tensors.MustConstFlatData[int32](d.Edges, func(flat []int32) {
		edges = append(edges, flat...)
	})
	assert.Equal(t, []int32{0, 0, 0, 0, 0, 1, 2, 1}, edges)

	// Customer features: [age/100, club active, fashion news].
	var features []float32
	tensors.MustConstFlatData[float32](d.CustomerFeatures, func(flat []float32) {
		features = append(features, flat...)
	})
	require.Len(t, features, 9)
	assert.InDelta(t, 0.25, features[0], 1e-6)
	assert.Equal(t, float32(1), features[1])
	assert.Equal(t, float32(1), features[2])
	// c1 has no age, inactive club, no news.
	assert.Equal(t, []float32{0, 0, 0}, features[3:6])

	assert.Equal(t, []int{2, 5}, d.ArticleFeatures.Shape().Dimensions)
}

func TestLoadCache(t *testing.T) {
	dir := writeTestData(t)
	d, err := Load(dir)
	require.NoError(t, err)

	// The derived bundle was written...
	cachePath := filepath.Join(dir, derivedDir, cacheFile)
	_, err = os.Stat(cachePath)
	require.NoError(t, err)

	// ...and is preferred over the CSVs: deleting them doesn't break reload.
	require.NoError(t, os.Remove(filepath.Join(dir, TransactionsFile)))
	reloaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, d.CustomerIDs, reloaded.CustomerIDs)
	assert.Equal(t, d.ArticleIDs, reloaded.ArticleIDs)
	assert.Equal(t, d.NumTransactions(), reloaded.NumTransactions())
	idx, found := reloaded.CustomerIndex("c1")
	require.True(t, found)
	assert.Equal(t, int32(1), idx)
}

func TestInteractionMatrix(t *testing.T) {
	dir := writeTestData(t)
	d, err := Load(dir)
	require.NoError(t, err)

	m := d.InteractionMatrix()
	assert.Equal(t, 3, m.Rows())
	assert.Equal(t, 2, m.Cols())
	// The repeat purchase of (c0, 0108775015) collapses to a single 1.
	assert.Equal(t, 3, m.NNZ())
	assert.Equal(t, float32(1), m.At(0, 0))
	assert.Equal(t, float32(1), m.At(0, 1))
	assert.Equal(t, float32(1), m.At(2, 1))
	assert.Equal(t, float32(0), m.At(1, 0))
}
