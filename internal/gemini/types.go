// Package gemini provides an HTTP client for the Google Gemini API covering
// multimodal content generation, Imagen image generation and long-running
// Veo video operations.
package gemini

import "strings"

// Modality values accepted in GenerationConfig.ResponseModalities.
const (
	ModalityText  = "TEXT"
	ModalityImage = "IMAGE"
)

// Blob is binary data with its MIME type.
type Blob struct {
	MimeType string
	Data     []byte
}

// Part is one element of a content message: either text or inline data.
type Part struct {
	Text       string
	InlineData *Blob
}

// ContentRequest is a single-turn generateContent request.
type ContentRequest struct {
	Parts              []Part
	ResponseModalities []string
}

// ContentResponse holds the parts of the first candidate.
type ContentResponse struct {
	Parts []Part
}

// Text concatenates the text parts of the response.
func (r ContentResponse) Text() string {
	var b strings.Builder
	for _, p := range r.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// ImageRequest configures an Imagen predict call.
type ImageRequest struct {
	Prompt         string
	NumberOfImages int
	AspectRatio    string
	OutputMimeType string
}

// VideoRequest configures a Veo predictLongRunning call.
type VideoRequest struct {
	Prompt         string
	Image          *Blob
	AspectRatio    string
	Resolution     string
	NumberOfVideos int
}

// Operation is the state of a long-running operation.
type Operation struct {
	// Name is the opaque handle used to poll the operation.
	Name string
	// Done is true once the operation reached a terminal state.
	Done bool
	// Error is set when the backend finished the operation unsuccessfully.
	Error *OperationError
	// VideoURIs lists the generated artifact URIs, in order.
	VideoURIs []string
}

// OperationError carries the backend-supplied failure of an operation.
type OperationError struct {
	Code    int
	Message string
}

// --- wire types ---

type wireBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wirePart struct {
	Text       string    `json:"text,omitempty"`
	InlineData *wireBlob `json:"inlineData,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type generateContentRequest struct {
	Contents         []wireContent         `json:"contents"`
	GenerationConfig *wireGenerationConfig `json:"generationConfig,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content      wireContent `json:"content"`
		FinishReason string      `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

type imageInstance struct {
	Prompt string `json:"prompt"`
}

type imageParameters struct {
	SampleCount    int    `json:"sampleCount,omitempty"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
	OutputMimeType string `json:"outputMimeType,omitempty"`
}

type predictImagesRequest struct {
	Instances  []imageInstance `json:"instances"`
	Parameters imageParameters `json:"parameters"`
}

type predictImagesResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

type videoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type videoInstance struct {
	Prompt string      `json:"prompt"`
	Image  *videoImage `json:"image,omitempty"`
}

type videoParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	SampleCount int    `json:"sampleCount,omitempty"`
}

type predictVideosRequest struct {
	Instances  []videoInstance `json:"instances"`
	Parameters videoParameters `json:"parameters"`
}

type operationResponse struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
