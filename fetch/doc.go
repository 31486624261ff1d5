// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package fetch retrieves a source URL and returns its content as markdown
// together with the outbound links that stay inside the source's crawl scope.
//
// Web pages are rendered by a Renderer so client-side content is present
// before extraction; ChromeRenderer drives a headless browser through
// chromedp. PDF documents are downloaded and their text streams extracted
// with pdfcpu. Both paths share the same retry policy and the run-wide
// Throttle, which spaces requests and slows down when a site starts refusing
// them.
//
// Fetch never writes to storage. Failures are reported as *FetchError and
// match the ErrTimeout, ErrBlocked, ErrHTTP and ErrRender sentinels with
// errors.Is.
package fetch
