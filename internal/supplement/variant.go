// Package supplement implements the sequence-variant supplementation
// stage: it converts a source's sequence variant nodes to VCF, runs them
// through an external effect annotator, and converts the annotator's output
// into supplemental KGX gene-variant edges. Grounded in full on
// orion/supplementation.py's SequenceVariantSupplementation.
package supplement

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mrudd/kgbuild/internal/errors"
	"github.com/mrudd/kgbuild/internal/model"
	"github.com/mrudd/kgbuild/internal/stream"
	"github.com/sirupsen/logrus"
)

// Version identifies this stage's logic, recorded into SourceMetadata's
// supplementation version, matching SUPPLEMENTATION_VERSION.
const Version = "1.1"

// SnpeffProvenance is the primary knowledge source attached to every
// generated variant-effect edge.
const SnpeffProvenance = "infores:robokop-snpeff"

// effectPredicates maps Sequence Ontology effect terms (as emitted by the
// effect annotator) to biolink predicates or SO curies, copied verbatim
// from SNPEFF_SO_PREDICATES.
var effectPredicates = map[string]string{
	"3_prime_UTR_variant":                             "biolink:is_non_coding_variant_of",
	"5_prime_UTR_premature_start_codon_gain_variant":   "biolink:is_non_coding_variant_of",
	"5_prime_UTR_variant":                              "biolink:is_non_coding_variant_of",
	"conservative_inframe_deletion":                    "SO:0001825",
	"conservative_inframe_insertion":                   "SO:0001823",
	"disruptive_inframe_deletion":                      "SO:0001826",
	"disruptive_inframe_insertion":                     "SO:0001824",
	"downstream_gene_variant":                          "biolink:is_nearby_variant_of",
	"frameshift_variant":                               "SO:0001589",
	"initiator_codon_variant":                          "SO:0001583",
	"intergenic_region":                                "biolink:is_nearby_variant_of",
	"conserved_intergenic_region":                       "biolink:is_nearby_variant_of",
	"intragenic_variant":                               "biolink:is_non_coding_variant_of",
	"intron_variant":                                   "biolink:is_non_coding_variant_of",
	"missense_variant":                                 "SO:0001583",
	"non_coding_transcript_exon_variant":               "biolink:is_non_coding_variant_of",
	"non_coding_transcript_variant":                    "biolink:is_non_coding_variant_of",
	"splice_acceptor_variant":                          "SO:0001629",
	"splice_donor_variant":                             "SO:0001629",
	"splice_region_variant":                            "SO:0001629",
	"start_lost":                                       "SO:0001589",
	"start_retained_variant":                           "SO:0001819",
	"stop_gained":                                       "SO:0002054",
	"stop_lost":                                         "SO:0001589",
	"synonymous_variant":                               "SO:0001819",
	"upstream_gene_variant":                            "biolink:is_nearby_variant_of",
}

// Config points at the external effect annotator binary and the working
// directory to stage its input/output files in. The annotator is expected
// to accept a VCF file on stdin-equivalent argument and emit an
// ANN=-annotated VCF on stdout, the same contract orion/supplementation.py
// has with SNPEFF.
type Config struct {
	AnnotatorPath    string
	AnnotatorArgs    []string // e.g. ["-noStats", "-ud", "100000", "GRCh38.99"]
	WorkDir          string
}

// VariantSupplementer runs the full find_supplemental_data workflow.
type VariantSupplementer struct {
	cfg    Config
	logger *logrus.Entry
}

func New(cfg Config, logger *logrus.Entry) *VariantSupplementer {
	return &VariantSupplementer{cfg: cfg, logger: logger}
}

// FindSupplementalData reads sequence variant nodes from nodesPath, runs
// them through the external annotator, and writes the resulting gene nodes
// and variant-effect edges to suppNodesPath/suppEdgesPath. Returns metadata
// matching SequenceVariantSupplementation.find_supplemental_data's return
// shape (annotator version/command plus counts), but does not itself invoke
// normalization - the caller runs the supplemental files back through
// fsnormalize, matching how SourcePipeline orchestrates the two stages.
func (vs *VariantSupplementer) FindSupplementalData(ctx context.Context, nodesPath, suppNodesPath, suppEdgesPath string) (map[string]any, error) {
	vcfPath := vs.cfg.WorkDir + "/variants.vcf"
	annotatedPath := vs.cfg.WorkDir + "/variants_ann.vcf"

	vs.logger.Info("creating VCF file from source nodes")
	variantCount, err := createVCFFromVariantNodes(nodesPath, vcfPath)
	if err != nil {
		return nil, err
	}
	if variantCount == 0 {
		return map[string]any{"variant_count": 0}, nil
	}

	vs.logger.Info("running effect annotator")
	if err := vs.runAnnotator(ctx, vcfPath, annotatedPath); err != nil {
		return nil, err
	}

	vs.logger.Info("converting annotated VCF to KGX")
	metadata, err := convertAnnotatedVCFToKGX(annotatedPath, suppNodesPath, suppEdgesPath)
	if err != nil {
		return nil, err
	}

	os.Remove(vcfPath)
	os.Remove(annotatedPath)

	metadata["variant_count"] = variantCount
	return metadata, nil
}

func (vs *VariantSupplementer) runAnnotator(ctx context.Context, vcfPath, annotatedPath string) error {
	out, err := os.Create(annotatedPath)
	if err != nil {
		return errors.SupplementationFailedError(err, "creating annotated VCF output file")
	}
	defer out.Close()

	args := append(append([]string{}, vs.cfg.AnnotatorArgs...), vcfPath)
	cmd := exec.CommandContext(ctx, vs.cfg.AnnotatorPath, args...)
	cmd.Dir = vs.cfg.WorkDir
	cmd.Stdout = out
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return errors.SupplementationFailedError(err, fmt.Sprintf("effect annotator subprocess failed: %s", stderr.String()))
	}
	return nil
}

// createVCFFromVariantNodes writes one VCF line per sequence variant node
// that carries a robokop_variant_id, matching create_vcf_from_variant_nodes.
func createVCFFromVariantNodes(nodesPath, vcfPath string) (int, error) {
	reader, err := stream.NewRawReader(nodesPath)
	if err != nil {
		return 0, errors.SupplementationFailedError(err, fmt.Sprintf("reading nodes file %s", nodesPath))
	}
	defer reader.Close()

	vcf, err := os.Create(vcfPath)
	if err != nil {
		return 0, errors.SupplementationFailedError(err, "creating VCF file")
	}
	defer vcf.Close()

	fmt.Fprintln(vcf, "#"+strings.Join([]string{"CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}, "\t"))

	count := 0
	for {
		node, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, errors.SupplementationFailedError(err, fmt.Sprintf("error decoding json from %s", nodesPath))
		}

		categories, _ := node[model.NodeTypes].([]any)
		isVariant := false
		for _, c := range categories {
			if s, ok := c.(string); ok && s == model.SequenceVariant {
				isVariant = true
				break
			}
		}
		if !isVariant {
			continue
		}
		robokopID, _ := node["robokop_variant_id"].(string)
		if robokopID == "" {
			continue
		}
		line, ok := robokopVariantToVCFLine(robokopID, node[model.NodeID].(string))
		if ok {
			fmt.Fprintln(vcf, line)
			count++
		}
	}
	return count, nil
}

// robokopVariantToVCFLine decodes a robokop_variant_id of the form
// "<prefix>:<build>|<chrom>|<start>|<end>|<ref>|<alt>|..." into a VCF data line,
// matching the parsing logic in create_vcf_from_variant_nodes.
func robokopVariantToVCFLine(robokopID, nodeID string) (string, bool) {
	parts := strings.SplitN(robokopID, ":", 2)
	if len(parts) != 2 {
		return "", false
	}
	params := strings.Split(parts[1], "|")
	if len(params) < 6 {
		return "", false
	}

	chromosome := params[1]
	position, err := strconv.Atoi(params[2])
	if err != nil {
		return "", false
	}
	ref := params[4]
	alt := params[5]

	switch {
	case ref == "":
		ref = "N"
		alt = "N" + alt
	case alt == "":
		ref = "N" + ref
		alt = "N"
	default:
		position++
	}

	line := strings.Join([]string{chromosome, strconv.Itoa(position), nodeID, ref, alt, "", "PASS", ""}, "\t")
	return line, true
}

// convertAnnotatedVCFToKGX parses an ANN=-annotated VCF, emitting one gene
// node and one variant-effect edge per (gene, effect) pair found in each
// variant's annotation field, matching convert_snpeff_to_kgx.
func convertAnnotatedVCFToKGX(annotatedPath, nodesPath, edgesPath string) (map[string]any, error) {
	f, err := os.Open(annotatedPath)
	if err != nil {
		return nil, errors.SupplementationFailedError(err, "opening annotated VCF")
	}
	defer f.Close()

	writer, err := stream.NewWriter(nodesPath, edgesPath, nil)
	if err != nil {
		return nil, errors.SupplementationFailedError(err, "opening supplemental KGX output files")
	}
	defer writer.Close()

	metadata := map[string]any{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.Contains(line, "SnpEffVersion") {
				metadata["annotator_version"] = strings.TrimSpace(strings.SplitN(line, "=", 2)[1])
			}
			if strings.Contains(line, "SnpEffCmd") {
				metadata["annotator_cmd"] = strings.TrimSpace(strings.SplitN(line, "=", 2)[1])
			}
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 8 {
			continue
		}
		variantID := fields[2]
		infoFields := strings.Split(fields[7], ";")
		for _, info := range infoFields {
			if !strings.HasPrefix(info, "ANN=") {
				continue
			}
			if err := writeVariantEffects(writer, variantID, info[4:]); err != nil {
				return nil, err
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.SupplementationFailedError(err, "scanning annotated VCF")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.SupplementationFailedError(err, "closing supplemental KGX output files")
	}
	return metadata, nil
}

func writeVariantEffects(writer *stream.Writer, variantID, annField string) error {
	seenGenes := map[string]struct{}{}
	for _, annotation := range strings.Split(annField, ",") {
		parts := strings.Split(annotation, "|")
		if len(parts) < 15 {
			continue
		}
		effects := strings.Split(parts[1], "&")
		geneIDs := strings.Split(parts[4], "-")
		distanceInfo := parts[14]

		for _, geneID := range geneIDs {
			if geneID == "" {
				continue
			}
			geneCurie := "ENSEMBL:" + geneID
			for _, effect := range effects {
				predicate, ok := effectPredicates[effect]
				if !ok {
					predicate = model.FallbackEdgePredicate
				}
				if _, seen := seenGenes[geneCurie]; !seen {
					if err := writer.WriteNode(model.NewNode(geneCurie, "", []string{model.NamedThing}, nil)); err != nil {
						return err
					}
					seenGenes[geneCurie] = struct{}{}
				}

				props := map[string]any{
					"knowledge_level": "prediction",
					"agent_type":      "computational_model",
					"snpeff_effect":   effect,
				}
				if distance, err := strconv.Atoi(distanceInfo); err == nil {
					props["distance_to_feature"] = distance
				}
				edge := model.NewEdge(variantID, geneCurie, predicate, SnpeffProvenance, nil, props)
				if err := writer.WriteEdge(edge); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
