// Package features computes a fixed-size acoustic feature vector from a
// decoded waveform: timbre (MFCC), spectral shape, pitch, and rhythm.
// Extraction is deterministic and side-effect-free.
package features

import (
	"fmt"
	"math"

	"drawl/internal/wave"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	frameSize = 2048
	hopSize   = 512
	numMFCC   = 13
	numMels   = 40

	rolloffFraction = 0.85

	// Pitch tracking bounds and the confidence floor below which a frame
	// is excluded from the pitch average.
	pitchMinHz         = 50
	pitchMaxHz         = 500
	pitchConfidenceMin = 0.1
	pitchEnergyFloor   = 1e-6

	tempoMinBPM = 40
	tempoMaxBPM = 240
)

// Vector is the fixed-dimensionality feature summary of a waveform. All
// fields are scalars or fixed-length numeric sequences, so it serializes
// directly to JSON.
type Vector struct {
	MFCCMean             [numMFCC]float64 `json:"mfccMean"`
	MFCCStd              [numMFCC]float64 `json:"mfccStd"`
	SpectralCentroidMean float64          `json:"spectralCentroidMean"`
	SpectralRolloffMean  float64          `json:"spectralRolloffMean"`
	PitchMean            float64          `json:"pitchMean"`
	Tempo                float64          `json:"tempo"`
	DurationSeconds      float64          `json:"durationSeconds"`
	SampleRate           int              `json:"sampleRate"`
}

// FlatMap renders the vector as a flat JSON-compatible map, the form the
// LLM collaborator consumes.
func (v *Vector) FlatMap() map[string]any {
	mean := make([]float64, numMFCC)
	std := make([]float64, numMFCC)
	copy(mean, v.MFCCMean[:])
	copy(std, v.MFCCStd[:])
	return map[string]any{
		"mfcc_mean":              mean,
		"mfcc_std":               std,
		"spectral_centroid_mean": v.SpectralCentroidMean,
		"spectral_rolloff_mean":  v.SpectralRolloffMean,
		"pitch_mean":             v.PitchMean,
		"tempo":                  v.Tempo,
		"duration":               v.DurationSeconds,
		"sample_rate":            v.SampleRate,
	}
}

// ExtractionError reports an undecodable or silent waveform.
type ExtractionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("feature extraction failed: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ExtractFile decodes a WAV file at its native sample rate and extracts
// the feature vector.
func ExtractFile(path string) (*Vector, error) {
	samples, sr, err := wave.Decode(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Reason: "cannot decode waveform", Err: err}
	}
	return Extract(samples, sr, path)
}

// Extract computes the feature vector from raw samples.
func Extract(samples []float64, sampleRate int, path string) (*Vector, error) {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil, &ExtractionError{Path: path, Reason: "empty waveform"}
	}
	if isSilent(samples) {
		return nil, &ExtractionError{Path: path, Reason: "waveform is silent"}
	}

	frames := frameCount(len(samples))
	fft := fourier.NewFFT(frameSize)
	bins := frameSize/2 + 1
	melBank := melFilterbank(numMels, bins, sampleRate)
	dct := dctMatrix(numMFCC, numMels)

	mfccSum := make([]float64, numMFCC)
	mfccSumSq := make([]float64, numMFCC)
	var centroidSum, rolloffSum float64
	var pitchSum float64
	pitchFrames := 0
	flux := make([]float64, frames)

	buf := make([]float64, frameSize)
	spectrum := make([]float64, bins)
	prevSpectrum := make([]float64, bins)
	mels := make([]float64, numMels)
	coeffs := make([]complex128, bins)

	for fi := 0; fi < frames; fi++ {
		offset := fi * hopSize
		fillFrame(buf, samples, offset)

		// Pitch uses the raw (unwindowed) frame.
		if hz, conf := trackPitch(buf, sampleRate); conf > pitchConfidenceMin {
			pitchSum += hz
			pitchFrames++
		}

		window.Hann(buf)
		fft.Coefficients(coeffs, buf)
		for k := 0; k < bins; k++ {
			spectrum[k] = cmplxAbs(coeffs[k])
		}

		centroidSum += spectralCentroid(spectrum, sampleRate)
		rolloffSum += spectralRolloff(spectrum, sampleRate)
		flux[fi] = spectralFlux(spectrum, prevSpectrum)
		copy(prevSpectrum, spectrum)

		melEnergies(spectrum, melBank, mels)
		for i := 0; i < numMFCC; i++ {
			var c float64
			for j := 0; j < numMels; j++ {
				c += dct[i][j] * mels[j]
			}
			mfccSum[i] += c
			mfccSumSq[i] += c * c
		}
	}

	v := &Vector{
		SpectralCentroidMean: centroidSum / float64(frames),
		SpectralRolloffMean:  rolloffSum / float64(frames),
		Tempo:                estimateTempo(flux, sampleRate),
		DurationSeconds:      wave.Duration(samples, sampleRate),
		SampleRate:           sampleRate,
	}
	n := float64(frames)
	for i := 0; i < numMFCC; i++ {
		mean := mfccSum[i] / n
		v.MFCCMean[i] = mean
		variance := mfccSumSq[i]/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		v.MFCCStd[i] = math.Sqrt(variance)
	}
	if pitchFrames > 0 {
		v.PitchMean = pitchSum / float64(pitchFrames)
	}
	return v, nil
}

func isSilent(samples []float64) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}

func frameCount(n int) int {
	if n <= frameSize {
		return 1
	}
	return 1 + (n-frameSize)/hopSize
}

// fillFrame copies one analysis frame, zero-padding past the end.
func fillFrame(dst, samples []float64, offset int) {
	for i := range dst {
		if offset+i < len(samples) {
			dst[i] = samples[offset+i]
		} else {
			dst[i] = 0
		}
	}
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func spectralCentroid(spectrum []float64, sampleRate int) float64 {
	var num, den float64
	for k, m := range spectrum {
		f := binFreq(k, sampleRate)
		num += f * m
		den += m
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func spectralRolloff(spectrum []float64, sampleRate int) float64 {
	var total float64
	for _, m := range spectrum {
		total += m
	}
	if total == 0 {
		return 0
	}
	target := rolloffFraction * total
	var cum float64
	for k, m := range spectrum {
		cum += m
		if cum >= target {
			return binFreq(k, sampleRate)
		}
	}
	return binFreq(len(spectrum)-1, sampleRate)
}

// spectralFlux is the positive change in magnitude between consecutive
// frames, the onset strength signal the tempo estimate runs on.
func spectralFlux(spectrum, prev []float64) float64 {
	var flux float64
	for k := range spectrum {
		if d := spectrum[k] - prev[k]; d > 0 {
			flux += d
		}
	}
	return flux
}

func binFreq(k, sampleRate int) float64 {
	return float64(k) * float64(sampleRate) / float64(frameSize)
}

// trackPitch picks the strongest normalized autocorrelation peak in the
// voice range. The normalized peak value doubles as the tracking
// confidence.
func trackPitch(frame []float64, sampleRate int) (hz, confidence float64) {
	var energy float64
	for _, s := range frame {
		energy += s * s
	}
	if energy < pitchEnergyFloor {
		return 0, 0
	}

	minLag := sampleRate / pitchMaxHz
	maxLag := sampleRate / pitchMinHz
	if maxLag >= len(frame) {
		maxLag = len(frame) - 1
	}
	if minLag < 1 {
		minLag = 1
	}

	bestLag, bestVal := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var r float64
		for i := 0; i+lag < len(frame); i++ {
			r += frame[i] * frame[i+lag]
		}
		if v := r / energy; v > bestVal {
			bestVal = v
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return 0, 0
	}
	return float64(sampleRate) / float64(bestLag), bestVal
}

// estimateTempo autocorrelates the onset envelope and returns the BPM of
// the strongest periodicity inside the plausible range.
func estimateTempo(flux []float64, sampleRate int) float64 {
	if len(flux) < 4 {
		return 0
	}
	// Remove the envelope mean so silence between onsets does not
	// correlate.
	var mean float64
	for _, f := range flux {
		mean += f
	}
	mean /= float64(len(flux))
	env := make([]float64, len(flux))
	for i, f := range flux {
		env[i] = f - mean
	}

	framesPerSec := float64(sampleRate) / float64(hopSize)
	minLag := int(framesPerSec * 60 / tempoMaxBPM)
	maxLag := int(framesPerSec * 60 / tempoMinBPM)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(env) {
		maxLag = len(env) - 1
	}
	if maxLag < minLag {
		return 0
	}

	bestLag, bestVal := 0, math.Inf(-1)
	for lag := minLag; lag <= maxLag; lag++ {
		var r float64
		for i := 0; i+lag < len(env); i++ {
			r += env[i] * env[i+lag]
		}
		if r > bestVal {
			bestVal = r
			bestLag = lag
		}
	}
	if bestLag == 0 || bestVal <= 0 {
		return 0
	}
	return 60 * framesPerSec / float64(bestLag)
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// melFilterbank builds triangular filters over the FFT bins, as a
// [numMels][bins] weight matrix.
func melFilterbank(nMels, bins, sampleRate int) [][]float64 {
	maxMel := hzToMel(float64(sampleRate) / 2)
	centers := make([]float64, nMels+2)
	for i := range centers {
		centers[i] = melToHz(maxMel * float64(i) / float64(nMels+1))
	}

	bank := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		bank[m] = make([]float64, bins)
		lo, mid, hi := centers[m], centers[m+1], centers[m+2]
		for k := 0; k < bins; k++ {
			f := binFreq(k, sampleRate)
			switch {
			case f <= lo || f >= hi:
				// outside the triangle
			case f <= mid:
				bank[m][k] = (f - lo) / (mid - lo)
			default:
				bank[m][k] = (hi - f) / (hi - mid)
			}
		}
	}
	return bank
}

func melEnergies(spectrum []float64, bank [][]float64, out []float64) {
	for m := range bank {
		var e float64
		for k, w := range bank[m] {
			if w != 0 {
				e += w * spectrum[k] * spectrum[k]
			}
		}
		out[m] = math.Log(e + 1e-10)
	}
}

// dctMatrix is the DCT-II basis used to decorrelate the log mel energies
// into cepstral coefficients.
func dctMatrix(nCoeffs, nMels int) [][]float64 {
	m := make([][]float64, nCoeffs)
	scale := math.Sqrt(2 / float64(nMels))
	for i := 0; i < nCoeffs; i++ {
		m[i] = make([]float64, nMels)
		for j := 0; j < nMels; j++ {
			m[i][j] = scale * math.Cos(math.Pi*float64(i)*(float64(j)+0.5)/float64(nMels))
		}
		if i == 0 {
			for j := range m[i] {
				m[i][j] /= math.Sqrt2
			}
		}
	}
	return m
}
