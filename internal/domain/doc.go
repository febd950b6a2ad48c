// Package domain models V16 roadside-hazard-beacon sightings reported by the
// DGT eTraffic platform.
//
// # Data Source
//
// Sightings arrive through the eTraffic incident endpoint consumed by the
// official SPA. The endpoint is unstable in three independent ways, and the
// decoding pipeline tolerates all of them:
//
//   - Encoding: responses alternate between plain JSON and a JSON document
//     that has been XOR'd with a single key byte and base64-encoded (often
//     with the padding stripped). Content type is only a hint; see [Decode].
//   - Shape: the record list is sometimes the top-level value and sometimes
//     nested under one of several container keys ("situationsRecords",
//     "incidencias", "features", "data"). See [ExtractRecords].
//   - Field names: the same logical field appears under different keys across
//     payload versions (e.g. road = "carretera"/"via"/"road"). Every reader
//     walks a fallback chain.
//
// # Candidate Signature
//
// A V16 beacon sighting is an incident with source "DGT3.0", type
// "Advertencia" and cause "Vehículo detenido". Matching is trimmed and
// case-insensitive because upstream casing drifts between deployments.
//
// # Coordinate Conventions
//
// Embedded GeoJSON-style geometry carries coordinates in lon,lat order; flat
// fields carry lat and lon separately. Both conventions are intentional and
// must not be unified. A record without a finite coordinate pair by either
// method is dropped during normalization.
//
// # Identity
//
// When the upstream record carries an explicit "id" it is used verbatim.
// Otherwise the identity is a deterministic SHA-256 fingerprint of the
// coordinates (rounded to 5 decimals) plus road, kilometre point, cause and
// type, so the same physical incident is re-recognized across polls. See
// [Normalize].
package domain
