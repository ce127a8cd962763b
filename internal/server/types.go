package server

import (
	"time"

	"github.com/quadi/qsa-engrave/models"
	"github.com/quadi/qsa-engrave/sorter"
	"github.com/quadi/qsa-engrave/store"
)

// Envelope is the uniform response wrapper. Data is present on success,
// Message and Code on failure.
type Envelope struct {
	OK      bool        `json:"ok"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
}

type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type CreateUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// AwaitingGroup is one (design, order) bucket of host-catalog lots.
type AwaitingGroup struct {
	Design  string        `json:"design"`
	OrderID string        `json:"orderId"`
	Lots    []AwaitingLot `json:"lots"`
}

type AwaitingLot struct {
	store.CatalogModule
	CanonicalCode string `json:"canonicalCode,omitempty"`
	Revision      string `json:"revision,omitempty"`
	IsLegacy      bool   `json:"isLegacy,omitempty"`
	Compatible    bool   `json:"compatible"`
}

type PreviewBatchRequest struct {
	Selections    []sorter.Selection `json:"selections"`
	StartPosition int                `json:"startPosition"`
}

type PreviewBatchResponse struct {
	Carriers    [][]sorter.PlacedModule `json:"carriers"`
	ModuleCount int                     `json:"moduleCount"`
	Transitions int                     `json:"transitions"`
	LedCodes    []string                `json:"ledCodes"`
}

type CreateBatchRequest struct {
	Name          string             `json:"name"`
	Selections    []sorter.Selection `json:"selections"`
	StartPosition int                `json:"startPosition"`
}

type CreateBatchResponse struct {
	BatchID int64 `json:"batchId"`
}

// RowGroup is one logical row in the queue view.
type RowGroup struct {
	QsaSequence int              `json:"qsaSequence"`
	Status      models.RowStatus `json:"status"`
	Modules     []models.Module  `json:"modules"`
}

type QueueResponse struct {
	Batch              *models.Batch   `json:"batch"`
	Rows               []RowGroup      `json:"rows"`
	Capacity           models.Capacity `json:"capacity"`
	OtherActiveBatches int             `json:"otherActiveBatches"`
}

// RowRequest addresses one logical row of a batch.
type RowRequest struct {
	BatchID     int64 `json:"batchId"`
	QsaSequence int   `json:"qsaSequence"`
}

type StartPositionRequest struct {
	BatchID       int64 `json:"batchId"`
	QsaSequence   int   `json:"qsaSequence"`
	StartPosition int   `json:"startPosition"`
}

type StartRowResponse struct {
	Serials []models.ReservedSerial `json:"serials"`
}

type GenerateSVGRequest struct {
	BatchID     int64 `json:"batchId"`
	QsaSequence int   `json:"qsaSequence"`
	AutoLoad    *bool `json:"autoLoad,omitempty"`
}

type GenerateSVGResponse struct {
	QSAID      string `json:"qsaId"`
	Path       string `json:"path"`
	RemotePath string `json:"remotePath"`
	Loaded     bool   `json:"loaded"`
	LoadError  string `json:"loadError,omitempty"`
}

type TestDeviceResponse struct {
	RTTMillis int64 `json:"rttMillis"`
}

type SkuTestRequest struct {
	SKU string `json:"sku"`
}

type ConfigPreviewResponse struct {
	Design   string             `json:"design"`
	Revision string             `json:"revision"`
	Delta    *store.ImportDelta `json:"delta"`
}

// SerialLookupResponse is the public, unauthenticated view of a serial.
type SerialLookupResponse struct {
	SerialNumber string     `json:"serialNumber"`
	ModuleSKU    string     `json:"moduleSku"`
	Status       string     `json:"status"`
	EngravedAt   *time.Time `json:"engravedAt,omitempty"`
}

// SerialDetailsResponse is the staff traceability record.
type SerialDetailsResponse struct {
	Serial     *models.Serial  `json:"serial"`
	QSAID      string          `json:"qsaId,omitempty"`
	RowSerials []models.Serial `json:"rowSerials"`
}
