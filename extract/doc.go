// Package extract turns raw document bytes into plain text plus lightweight
// metadata.
//
// Extractors are dispatched by mime type through a Registry. The default
// registry handles PDF (pdfcpu), DOCX, Markdown (goldmark, with YAML front
// matter), HTML (goquery + html-to-markdown) and plain text. Markdown and
// HTML are reduced to text that keeps heading markers, list bullets and table
// pipes so structure can still be recognized downstream.
//
// Derive fills in metadata that extractors could not read from the document
// itself by scanning the text: the first heading or line as title, "author:"
// and "by:" lines, and date and version patterns.
package extract
