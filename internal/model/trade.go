package model

import (
	"github.com/sells-group/comex-enrich/internal/cnpj"
)

// Trade relation column names.
const (
	ColRecordKey          = "record_key"
	ColNCM                = "ncm"
	ColImporterUF         = "uf_importador"
	ColImporterCity       = "cidade_importador"
	ColProductDescription = "descricao_produto"
	ColModal              = "modal"
	ColCountry            = "pais_aquisicao"
	ColStatUnit           = "unidade_estatistica"
	ColNetWeight          = "peso_liquido"
	ColFOBValue           = "valor_fob"
	ColFreight            = "valor_frete"
	ColInsurance          = "valor_seguro"
	ColQuantity           = "quantidade"
	ColPredictedID        = "predicted_id"
	ColConfidence         = "confidence"
)

// TradeColumns is the schema of the trade relation.
var TradeColumns = []Column{
	{ColRecordKey, TypeText},
	{ColNCM, TypeText},
	{ColImporterUF, TypeText},
	{ColImporterCity, TypeText},
	{ColProductDescription, TypeText},
	{ColModal, TypeText},
	{ColCountry, TypeText},
	{ColStatUnit, TypeText},
	{ColNetWeight, TypeFloat},
	{ColFOBValue, TypeFloat},
	{ColFreight, TypeFloat},
	{ColInsurance, TypeFloat},
	{ColQuantity, TypeFloat},
	{ColPredictedID, TypeText},
	{ColConfidence, TypeFloat},
}

// TradeRecord is one customs declaration line with its predicted importer.
type TradeRecord struct {
	RecordKey          string  `json:"record_key"`
	NCM                string  `json:"ncm"`
	ImporterUF         string  `json:"uf_importador"`
	ImporterCity       string  `json:"cidade_importador"`
	ProductDescription string  `json:"descricao_produto"`
	Modal              string  `json:"modal"`
	Country            string  `json:"pais_aquisicao"`
	StatUnit           string  `json:"unidade_estatistica"`
	NetWeight          float64 `json:"peso_liquido"`
	FOBValue           float64 `json:"valor_fob"`
	Freight            float64 `json:"valor_frete"`
	Insurance          float64 `json:"valor_seguro"`
	Quantity           float64 `json:"quantidade"`
	PredictedID        string  `json:"predicted_id"`
	Confidence         float64 `json:"confidence"`

	// Derived by Normalize.
	NormalizedID string `json:"-"`
	BasicID      string `json:"-"`
}

// Normalize derives NormalizedID and BasicID from PredictedID.
func (r *TradeRecord) Normalize() {
	r.NormalizedID = cnpj.Normalize(r.PredictedID)
	r.BasicID = cnpj.Basic(r.NormalizedID)
}

// Features returns the classifier inputs of the record.
func (r *TradeRecord) Features() Features {
	return Features{
		NCM:                r.NCM,
		ImporterUF:         r.ImporterUF,
		ImporterCity:       r.ImporterCity,
		ProductDescription: r.ProductDescription,
		Modal:              r.Modal,
		Country:            r.Country,
		StatUnit:           r.StatUnit,
		NetWeight:          r.NetWeight,
		FOBValue:           r.FOBValue,
		Freight:            r.Freight,
		Insurance:          r.Insurance,
		Quantity:           r.Quantity,
	}
}

// Values returns the record in TradeColumns order.
func (r *TradeRecord) Values() []any {
	return []any{
		r.RecordKey, r.NCM, r.ImporterUF, r.ImporterCity, r.ProductDescription,
		r.Modal, r.Country, r.StatUnit,
		r.NetWeight, r.FOBValue, r.Freight, r.Insurance, r.Quantity,
		r.PredictedID, r.Confidence,
	}
}

// Features are the attributes a classifier predicts an importer from.
type Features struct {
	NCM                string
	ImporterUF         string
	ImporterCity       string
	ProductDescription string
	Modal              string
	Country            string
	StatUnit           string
	NetWeight          float64
	FOBValue           float64
	Freight            float64
	Insurance          float64
	Quantity           float64
}

// TradeTable converts records into a Table with TradeColumns.
func TradeTable(records []TradeRecord) *Table {
	t := NewTable(TradeColumns)
	t.Rows = make([][]any, len(records))
	for i := range records {
		t.Rows[i] = records[i].Values()
	}
	return t
}
