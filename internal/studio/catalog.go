package studio

// ServiceID identifies one of the creative services.
type ServiceID string

// Service identifiers.
const (
	ServiceAnalyze  ServiceID = "analyze"
	ServiceGenerate ServiceID = "generate"
	ServiceEdit     ServiceID = "edit"
	ServiceAnimate  ServiceID = "animate"
)

// ServiceInfo describes a service in the catalog.
type ServiceInfo struct {
	ID          ServiceID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
}

var catalog = []ServiceInfo{
	{
		ID:          ServiceAnalyze,
		Title:       "Analyze Image",
		Description: "Upload a photo to understand its content, context, and details with lightning speed.",
		Icon:        "document_scanner",
	},
	{
		ID:          ServiceGenerate,
		Title:       "Generate Image",
		Description: "Bring your ideas to life. Describe an image and watch our AI create it in various aspect ratios.",
		Icon:        "aspect_ratio",
	},
	{
		ID:          ServiceEdit,
		Title:       "Edit Image",
		Description: "Effortlessly modify your images with simple text prompts. Add filters, remove objects, and more.",
		Icon:        "image_edit_auto",
	},
	{
		ID:          ServiceAnimate,
		Title:       "Animate Image",
		Description: "Transform your static photos into dynamic, captivating videos with our state-of-the-art AI.",
		Icon:        "movie",
	},
}

// Services returns the catalog in display order.
func Services() []ServiceInfo {
	out := make([]ServiceInfo, len(catalog))
	copy(out, catalog)
	return out
}
