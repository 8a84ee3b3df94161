package enrichment

import (
	"context"
	"fmt"
	"strings"

	"github.com/winnersdraw91/pacs-v2/internal/domain/instances"
	"github.com/winnersdraw91/pacs-v2/internal/domain/study"
)

// Analysis is the text an analyzer produces for a study.
type Analysis struct {
	Findings   string
	Impression string
}

// Analyzer inspects the first instance of a study.
type Analyzer interface {
	Analyze(ctx context.Context, st *study.Study, instance []byte) (Analysis, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, st *study.Study, instance []byte) (Analysis, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, st *study.Study, instance []byte) (Analysis, error) {
	return f(ctx, st, instance)
}

const disclaimer = "Automated preliminary analysis. All findings must be confirmed against the images by a radiologist."

type template struct {
	heading    string
	findings   []string
	impression string
}

var templates = map[study.Modality]template{
	study.ModalityXRay: {
		heading: "RADIOGRAPH",
		findings: []string{
			"Cardiac silhouette within normal size.",
			"No focal consolidation, pleural effusion or pneumothorax.",
			"Mediastinal and hilar contours unremarkable.",
			"No acute osseous abnormality.",
		},
		impression: "No acute cardiopulmonary abnormality.",
	},
	study.ModalityCT: {
		heading: "CT",
		findings: []string{
			"Axial images reviewed with multiplanar reconstructions.",
			"No acute haemorrhage or mass effect.",
			"Ventricles and sulci of normal size and configuration.",
			"No abnormal enhancement.",
		},
		impression: "No acute abnormality on CT.",
	},
	study.ModalityMRI: {
		heading: "MRI",
		findings: []string{
			"Multiple sequences reviewed.",
			"No restricted diffusion to suggest acute infarction.",
			"No abnormal signal or mass lesion.",
			"Ventricles of normal size.",
		},
		impression: "No significant abnormality on MRI.",
	},
}

// MetadataAnalyzer renders templated preliminary findings from the DICOM
// header of the instance. The modality in the header wins over the one
// recorded on the study when it is recognised.
type MetadataAnalyzer struct{}

func (MetadataAnalyzer) Analyze(ctx context.Context, st *study.Study, instance []byte) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	meta, err := instances.ReadMetadata(instance)
	if err != nil {
		return Analysis{}, fmt.Errorf("read instance metadata: %w", err)
	}

	modality := st.Modality
	if m, err := study.ParseModality(meta.Modality); err == nil {
		modality = m
	}

	tpl, ok := templates[modality]
	if !ok {
		tpl = template{
			heading:    strings.ToUpper(string(modality)),
			findings:   []string{"Study reviewed.", "No acute abnormality identified on automated analysis."},
			impression: "No acute abnormality on preliminary analysis.",
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s FINDINGS\n\n", tpl.heading)
	if desc := describe(meta); desc != "" {
		fmt.Fprintf(&b, "Examination: %s\n", desc)
	}
	for _, line := range tpl.findings {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("\n")
	b.WriteString(disclaimer)

	return Analysis{
		Findings:   b.String(),
		Impression: "IMPRESSION\n\n" + tpl.impression,
	}, nil
}

func describe(m instances.Metadata) string {
	var parts []string
	for _, s := range []string{m.StudyDescription, m.SeriesDescription, m.BodyPartExamined} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
