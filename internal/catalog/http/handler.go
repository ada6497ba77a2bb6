package http

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joseosorio28/webflux-api/internal/catalog"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CatalogService interface {
	ListAll(ctx context.Context) iter.Seq2[catalog.Product, error]
	ListUppercased(ctx context.Context) iter.Seq2[catalog.Product, error]
	ListAmplified(ctx context.Context, factor int) iter.Seq2[catalog.Product, error]
	FindByID(ctx context.Context, id primitive.ObjectID) (catalog.Product, error)
	Save(ctx context.Context, p catalog.Product) (catalog.Product, error)
	Delete(ctx context.Context, p catalog.Product) error
	AttachImage(p *catalog.Product, filename string) (catalog.Image, bool)
	SaveImage(ctx context.Context, img catalog.Image) (catalog.Image, error)
	ListCategories(ctx context.Context) iter.Seq2[catalog.Category, error]
	FindCategoryByID(ctx context.Context, id primitive.ObjectID) (catalog.Category, error)
	SaveCategory(ctx context.Context, c catalog.Category) (catalog.Category, error)
}

// StreamSettings controls the paced and amplified listing endpoints.
type StreamSettings struct {
	Delay         time.Duration // per-element delay of the paced listing
	ChunkSize     int           // elements per transport flush
	DefaultRepeat int           // amplification factor when none is requested
}

type Handler struct {
	service    CatalogService
	logger     *slog.Logger
	imagesPath string
	stream     StreamSettings
	streamed   prometheus.Counter
}

func NewHandler(svc CatalogService, logger *slog.Logger, imagesPath string, stream StreamSettings, streamed prometheus.Counter) *Handler {
	return &Handler{
		service:    svc,
		logger:     logger,
		imagesPath: imagesPath,
		stream:     stream,
		streamed:   streamed,
	}
}

type productRequest struct {
	Name     string       `json:"name" binding:"required" example:"TV Panasonic Pantalla LCD"`
	Price    *float64     `json:"price" binding:"required,gte=0" example:"456.89"`
	Category *categoryRef `json:"category,omitempty"`
}

type categoryRef struct {
	ID   string `json:"id" binding:"required" example:"5e9f8f8f8f8f8f8f8f8f8f8f"`
	Name string `json:"name" example:"Electronics"`
}

type categoryRequest struct {
	Name string `json:"name" binding:"required" example:"Electronics"`
}

type fieldError struct {
	Field   string `json:"field" example:"price"`
	Message string `json:"message" example:"is required"`
}

type errorResponse struct {
	Error string `json:"error" example:"product not found"`
}

// bindErrors unpacks a gin binding failure into per-field messages.
func bindErrors(err error) []fieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []fieldError{{Field: "body", Message: "invalid request body"}}
	}

	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed on %q validation", fe.Tag())
	}
}

func (r productRequest) toProduct() (catalog.Product, []fieldError) {
	p := catalog.Product{Name: r.Name, Price: *r.Price}
	if r.Category != nil {
		id, err := primitive.ObjectIDFromHex(r.Category.ID)
		if err != nil {
			return catalog.Product{}, []fieldError{{Field: "category.id", Message: "must be a valid object id"}}
		}
		p.Category = &catalog.Category{ID: id, Name: r.Category.Name}
	}
	return p, nil
}

func parseID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid product id"})
		return primitive.NilObjectID, false
	}
	return id, true
}

// ListProducts godoc
// @Summary      List all products
// @Description  Buffered listing; names are returned as stored.
// @Tags         products
// @Produce      json
// @Success      200  {array}   catalog.Product
// @Failure      500  {object}  errorResponse
// @Router       /products [get]
func (h *Handler) ListProducts(c *gin.Context) {
	items := make([]catalog.Product, 0)
	for p, err := range h.service.ListAll(c.Request.Context()) {
		if err != nil {
			h.logger.Error("list products failed", "error", err)
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to list products"})
			return
		}
		items = append(items, p)
	}
	c.JSON(http.StatusOK, items)
}

// GetProduct godoc
// @Summary      Get a product by ID
// @Description  The returned name carries the uppercase display projection.
// @Tags         products
// @Produce      json
// @Param        id   path      string  true  "Product ID"
// @Success      200  {object}  catalog.Product
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /products/{id} [get]
func (h *Handler) GetProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	p, err := h.service.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to get product"})
		return
	}

	c.JSON(http.StatusOK, p)
}

// CreateProduct godoc
// @Summary      Create a new product
// @Tags         products
// @Accept       json
// @Produce      json
// @Param        body  body      productRequest  true  "Product data"
// @Success      201   {object}  catalog.Product
// @Failure      400   {array}   fieldError
// @Failure      500   {object}  errorResponse
// @Router       /products [post]
func (h *Handler) CreateProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindErrors(err))
		return
	}

	p, ferrs := req.toProduct()
	if ferrs != nil {
		c.JSON(http.StatusBadRequest, ferrs)
		return
	}

	saved, err := h.service.Save(c.Request.Context(), p)
	if err != nil {
		h.saveError(c, err)
		return
	}

	c.JSON(http.StatusCreated, saved)
}

// UpdateProduct godoc
// @Summary      Update a product
// @Description  Overwrites name, price and category only; identifier,
// @Description  creation time and image set are preserved.
// @Tags         products
// @Accept       json
// @Produce      json
// @Param        id    path      string          true  "Product ID"
// @Param        body  body      productRequest  true  "Replacement fields"
// @Success      200   {object}  catalog.Product
// @Failure      400   {array}   fieldError
// @Failure      404   {object}  errorResponse
// @Failure      500   {object}  errorResponse
// @Router       /products/{id} [put]
func (h *Handler) UpdateProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindErrors(err))
		return
	}

	existing, err := h.service.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to get product"})
		return
	}

	replacement, ferrs := req.toProduct()
	if ferrs != nil {
		c.JSON(http.StatusBadRequest, ferrs)
		return
	}

	existing.Name = replacement.Name
	existing.Price = replacement.Price
	existing.Category = replacement.Category

	saved, err := h.service.Save(c.Request.Context(), existing)
	if err != nil {
		h.saveError(c, err)
		return
	}

	c.JSON(http.StatusOK, saved)
}

// DeleteProduct godoc
// @Summary      Delete a product by ID
// @Tags         products
// @Produce      json
// @Param        id   path      string  true  "Product ID"
// @Success      204
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /products/{id} [delete]
func (h *Handler) DeleteProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	p, err := h.service.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to get product"})
		return
	}

	if err := h.service.Delete(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to delete product"})
		return
	}

	c.Status(http.StatusNoContent)
}

// UploadImage godoc
// @Summary      Attach an image to a product
// @Description  The product record is persisted before the file bytes are
// @Description  transferred; a failed transfer leaves the record pointing at
// @Description  an image whose bytes never landed, which is logged, not
// @Description  rolled back.
// @Tags         products
// @Accept       multipart/form-data
// @Produce      json
// @Param        id    path      string  true  "Product ID"
// @Param        file  formData  file    true  "Image file"
// @Success      201   {object}  catalog.Product
// @Failure      400   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Failure      500   {object}  errorResponse
// @Router       /products/{id}/upload [post]
func (h *Handler) UploadImage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "file is required"})
		return
	}

	p, err := h.service.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to get product"})
		return
	}

	h.attachAndSave(c, p, file.Filename, func(img catalog.Image) error {
		return c.SaveUploadedFile(file, filepath.Join(h.imagesPath, img.Name))
	})
}

type productForm struct {
	Name         string   `form:"name" binding:"required"`
	Price        *float64 `form:"price" binding:"required,gte=0"`
	CategoryID   string   `form:"category.id" binding:"required"`
	CategoryName string   `form:"category.name"`
}

// CreateProductWithImage godoc
// @Summary      Create a product and attach an image in one call
// @Tags         products
// @Accept       multipart/form-data
// @Produce      json
// @Param        name           formData  string  true   "Product name"
// @Param        price          formData  number  true   "Product price"
// @Param        category.id    formData  string  true   "Category ID"
// @Param        category.name  formData  string  false  "Category name"
// @Param        file           formData  file    true   "Image file"
// @Success      201  {object}  catalog.Product
// @Failure      400  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /uploadWithImage [post]
func (h *Handler) CreateProductWithImage(c *gin.Context) {
	var form productForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, bindErrors(err))
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "file is required"})
		return
	}

	categoryID, err := primitive.ObjectIDFromHex(form.CategoryID)
	if err != nil {
		c.JSON(http.StatusBadRequest, []fieldError{{Field: "category.id", Message: "must be a valid object id"}})
		return
	}

	p := catalog.Product{
		Name:     form.Name,
		Price:    *form.Price,
		Category: &catalog.Category{ID: categoryID, Name: form.CategoryName},
	}

	h.attachAndSave(c, p, file.Filename, func(img catalog.Image) error {
		return c.SaveUploadedFile(file, filepath.Join(h.imagesPath, img.Name))
	})
}

// attachAndSave runs the write sequence shared by the upload handlers:
// mutate the image set, persist the image document, persist the
// product, then transfer the file bytes. A transfer failure after the
// product write is the accepted inconsistency window.
func (h *Handler) attachAndSave(c *gin.Context, p catalog.Product, filename string, transfer func(catalog.Image) error) {
	img, attached := h.service.AttachImage(&p, filename)

	if attached {
		if _, err := h.service.SaveImage(c.Request.Context(), img); err != nil {
			h.logger.Error("save image record failed", "image", img.Name, "error", err)
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to save image"})
			return
		}
	}

	saved, err := h.service.Save(c.Request.Context(), p)
	if err != nil {
		h.saveError(c, err)
		return
	}

	if attached {
		if err := transfer(img); err != nil {
			h.logger.Warn("image bytes not transferred",
				"product_id", saved.ID.Hex(),
				"image", img.Name,
				"error", err,
			)
		}
	}

	c.JSON(http.StatusCreated, saved)
}

func (h *Handler) saveError(c *gin.Context, err error) {
	if errors.Is(err, catalog.ErrCategoryNotFound) {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "category reference cannot be resolved"})
		return
	}
	h.logger.Error("save product failed", "error", err)
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to save product"})
}

// StreamProducts godoc
// @Summary      Paced product stream
// @Description  Uppercased listing delivered as NDJSON, one element per
// @Description  line, flushed in bounded chunks with an inter-element delay.
// @Tags         streams
// @Produce      json
// @Param        delay_ms  query  int  false  "Per-element delay in milliseconds"
// @Success      200  {object}  catalog.Product
// @Failure      500  {object}  errorResponse
// @Router       /streams/products [get]
func (h *Handler) StreamProducts(c *gin.Context) {
	delay := h.stream.Delay
	if raw := c.Query("delay_ms"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms >= 0 {
			delay = time.Duration(ms) * time.Millisecond
		}
	}

	st := newProductStream(delay, h.stream.ChunkSize, h.streamed, h.logger)
	st.run(c, h.service.ListUppercased(c.Request.Context()))
}

// StreamAmplified godoc
// @Summary      Amplified product stream
// @Description  Replays the uppercased listing repeatedly to manufacture a
// @Description  long-running NDJSON stream. Read-only diagnostic endpoint.
// @Tags         streams
// @Produce      json
// @Param        repeat  query  int  false  "Replay count"  default(5000)
// @Success      200  {object}  catalog.Product
// @Failure      500  {object}  errorResponse
// @Router       /streams/products/amplified [get]
func (h *Handler) StreamAmplified(c *gin.Context) {
	repeat := h.stream.DefaultRepeat
	if raw := c.Query("repeat"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			repeat = n
		}
	}

	st := newProductStream(0, h.stream.ChunkSize, h.streamed, h.logger)
	st.run(c, h.service.ListAmplified(c.Request.Context(), repeat))
}

// ListCategories godoc
// @Summary      List all categories
// @Tags         categories
// @Produce      json
// @Success      200  {array}   catalog.Category
// @Failure      500  {object}  errorResponse
// @Router       /categories [get]
func (h *Handler) ListCategories(c *gin.Context) {
	items := make([]catalog.Category, 0)
	for cat, err := range h.service.ListCategories(c.Request.Context()) {
		if err != nil {
			h.logger.Error("list categories failed", "error", err)
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to list categories"})
			return
		}
		items = append(items, cat)
	}
	c.JSON(http.StatusOK, items)
}

// GetCategory godoc
// @Summary      Get a category by ID
// @Tags         categories
// @Produce      json
// @Param        id   path      string  true  "Category ID"
// @Success      200  {object}  catalog.Category
// @Failure      400  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /categories/{id} [get]
func (h *Handler) GetCategory(c *gin.Context) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid category id"})
		return
	}

	cat, err := h.service.FindCategoryByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrCategoryNotFound) {
			c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to get category"})
		return
	}

	c.JSON(http.StatusOK, cat)
}

// CreateCategory godoc
// @Summary      Create a new category
// @Tags         categories
// @Accept       json
// @Produce      json
// @Param        body  body      categoryRequest  true  "Category data"
// @Success      201   {object}  catalog.Category
// @Failure      400   {array}   fieldError
// @Failure      500   {object}  errorResponse
// @Router       /categories [post]
func (h *Handler) CreateCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bindErrors(err))
		return
	}

	saved, err := h.service.SaveCategory(c.Request.Context(), catalog.Category{Name: req.Name})
	if err != nil {
		h.logger.Error("save category failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to save category"})
		return
	}

	c.JSON(http.StatusCreated, saved)
}
