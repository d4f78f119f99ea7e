package diagnosis

import (
	"github.com/eyesofbreath/xray-api/internal/domain/identity"
	"github.com/eyesofbreath/xray-api/internal/domain/imaging"
)

// ImageView is an x-ray image with its result, if one was produced.
type ImageView struct {
	*imaging.XrayImage
	DiagnosisResult *Result `json:"diagnosis_result"`
}

// Assembled is the response of a pipeline run or a result lookup.
type Assembled struct {
	Patient   *identity.Patient `json:"patient"`
	XrayImage ImageView         `json:"xray_image"`
}

func Assemble(patient *identity.Patient, img *imaging.XrayImage, result *Result) *Assembled {
	return &Assembled{
		Patient:   patient,
		XrayImage: ImageView{XrayImage: img, DiagnosisResult: result},
	}
}
