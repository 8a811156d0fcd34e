package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"product-trace/internal/trace"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	adminKeyHeader = "X-Admin-Key"
	qrImageSize    = 256
)

type ProductService interface {
	CreateProduct(ctx context.Context, adminKey string, in trace.CreateProductInput) (trace.Product, error)
	AppendStatus(ctx context.Context, adminKey string, productID int64, status, details, location string) (trace.StatusEvent, error)
	DeleteProduct(ctx context.Context, adminKey string, productID int64) error
	GetProduct(ctx context.Context, id int64) (trace.Product, bool, error)
	ListProducts(ctx context.Context) ([]trace.Product, error)
}

type Handler struct {
	service   ProductService
	ref       trace.Reference
	uploadDir string
}

func NewHandler(svc ProductService, ref trace.Reference, uploadDir string) *Handler {
	return &Handler{service: svc, ref: ref, uploadDir: uploadDir}
}

type appendStatusRequest struct {
	Status   string `json:"status" binding:"required" example:"Shipped"`
	Details  string `json:"details" binding:"required" example:"Left warehouse"`
	Location string `json:"location" example:"HCMC"`
}

type errorResponse struct {
	Error string `json:"error" example:"product not found"`
}

type createProductResponse struct {
	ProductID int64 `json:"productId" example:"1"`
}

type appendStatusResponse struct {
	Timestamp string `json:"timestamp" example:"2026-02-24T12:00:00Z"`
}

type productResponse struct {
	trace.Product
	CurrentStatus *trace.StatusEvent `json:"currentStatus,omitempty"`
	QRCodeURL     string             `json:"qrCodeUrl"`
}

// CreateProduct godoc
// @Summary      Register a product with its initial status
// @Tags         products
// @Accept       multipart/form-data
// @Produce      json
// @Param        X-Admin-Key     header    string  true   "Admin key"
// @Param        name            formData  string  true   "Product name"
// @Param        manufacturer    formData  string  true   "Manufacturer"
// @Param        initialStatus   formData  string  true   "Initial status label"
// @Param        initialDetails  formData  string  true   "Initial status details"
// @Param        image           formData  file    false  "Product image"
// @Success      201  {object}  createProductResponse
// @Failure      400  {object}  errorResponse
// @Failure      401  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /api/product/add [post]
func (h *Handler) CreateProduct(c *gin.Context) {
	in := trace.CreateProductInput{
		Name:           c.PostForm("name"),
		Manufacturer:   c.PostForm("manufacturer"),
		InitialStatus:  c.PostForm("initialStatus"),
		InitialDetails: c.PostForm("initialDetails"),
	}

	var savedPath string
	if file, err := c.FormFile("image"); err == nil {
		filename := uuid.NewString() + filepath.Ext(file.Filename)
		savedPath = filepath.Join(h.uploadDir, filename)
		if err := c.SaveUploadedFile(file, savedPath); err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to store image"})
			return
		}
		in.ImageRef = "/uploads/" + filename
	}

	product, err := h.service.CreateProduct(c.Request.Context(), c.GetHeader(adminKeyHeader), in)
	if err != nil {
		// A rejected create must have no partial effect, the stored image
		// included.
		if savedPath != "" {
			_ = os.Remove(savedPath)
		}
		h.writeError(c, err, "failed to create product")
		return
	}

	c.JSON(http.StatusCreated, createProductResponse{ProductID: product.ID})
}

// AppendStatus godoc
// @Summary      Append a status event to a product
// @Tags         products
// @Accept       json
// @Produce      json
// @Param        X-Admin-Key  header  string               true  "Admin key"
// @Param        id           path    int                  true  "Product ID"
// @Param        body         body    appendStatusRequest  true  "Status event"
// @Success      201  {object}  appendStatusResponse
// @Failure      400  {object}  errorResponse
// @Failure      401  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /api/product/{id}/status [post]
func (h *Handler) AppendStatus(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}

	var req appendStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	event, err := h.service.AppendStatus(c.Request.Context(), c.GetHeader(adminKeyHeader), id, req.Status, req.Details, req.Location)
	if err != nil {
		h.writeError(c, err, "failed to append status")
		return
	}

	c.JSON(http.StatusCreated, appendStatusResponse{Timestamp: event.Timestamp.Format(time.RFC3339)})
}

// GetProduct godoc
// @Summary      Fetch a product with its full status history
// @Tags         products
// @Produce      json
// @Param        id  path  int  true  "Product ID"
// @Success      200  {object}  productResponse
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /api/product/{id} [get]
func (h *Handler) GetProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}

	product, found, err := h.service.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "failed to get product")
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, errorResponse{Error: trace.ErrNotFound.Error()})
		return
	}

	c.JSON(http.StatusOK, h.present(product, true))
}

// ListProducts godoc
// @Summary      List every product with its current status
// @Tags         products
// @Produce      json
// @Success      200  {array}   productResponse
// @Failure      500  {object}  errorResponse
// @Router       /api/products [get]
func (h *Handler) ListProducts(c *gin.Context) {
	list, err := h.service.ListProducts(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "failed to get products")
		return
	}

	// The public contract is a bare array, not a wrapper object.
	items := make([]productResponse, 0, len(list))
	for _, p := range list {
		items = append(items, h.present(p, false))
	}

	c.JSON(http.StatusOK, items)
}

// DeleteProduct godoc
// @Summary      Delete a product and its history
// @Tags         products
// @Produce      json
// @Param        X-Admin-Key  header  string  true  "Admin key"
// @Param        id           path    int     true  "Product ID"
// @Success      204
// @Failure      400  {object}  errorResponse
// @Failure      401  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /api/product/{id} [delete]
func (h *Handler) DeleteProduct(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteProduct(c.Request.Context(), c.GetHeader(adminKeyHeader), id); err != nil {
		h.writeError(c, err, "failed to delete product")
		return
	}

	c.Status(http.StatusNoContent)
}

// QRCode godoc
// @Summary      QR image encoding the product's canonical reference
// @Tags         products
// @Produce      png
// @Param        id  path  int  true  "Product ID"
// @Success      200  {file}    file
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /api/product/{id}/qr [get]
func (h *Handler) QRCode(c *gin.Context) {
	id, ok := productID(c)
	if !ok {
		return
	}

	_, found, err := h.service.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "failed to get product")
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, errorResponse{Error: trace.ErrNotFound.Error()})
		return
	}

	png, err := qrcode.Encode(h.ref.ProductURL(id), qrcode.Medium, qrImageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to render qr code"})
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) present(p trace.Product, withHistory bool) productResponse {
	current := p.Current()
	if !withHistory {
		p.History = nil
	}
	return productResponse{
		Product:       p,
		CurrentStatus: current,
		QRCodeURL:     fmt.Sprintf("/api/product/%d/qr", p.ID),
	}
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, trace.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, trace.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, errorResponse{Error: trace.ErrUnauthorized.Error()})
	case errors.Is(err, trace.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: trace.ErrNotFound.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, errorResponse{Error: "storage timed out"})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: fallback})
	}
}

func productID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid product id"})
		return 0, false
	}
	return id, true
}
