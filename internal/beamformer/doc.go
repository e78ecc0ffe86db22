// Package beamformer implements delay-and-sum beamforming for microphone arrays.
//
// A [Bank] is built once from an array [Geometry], a beam count, a sampling
// frequency and an analysis window duration. It holds, for every beam, the
// steering angle, the per-microphone alignment delays and the matching
// frequency-domain weights.
//
// [Estimate] splits a multichannel [SignalBlock] into consecutive windows,
// aligns and sums the channels for each beam in the frequency domain and
// returns the mean squared amplitude of every beam in every window as a
// [PowerMatrix]. The beam with the highest power in a frame is the estimated
// direction of arrival for that frame.
//
// Angles are radians in the array plane, measured from broadside (0) toward
// the array axis. A source at a positive angle reaches the microphones at the
// positive end of the axis first.
//
// A Bank is immutable and safe for concurrent use.
package beamformer
